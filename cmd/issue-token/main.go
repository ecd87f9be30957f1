// issue-token prints a bearer token for the API.
//
// Usage (from backend directory):
//
//	API_SECRET=... go run ./cmd/issue-token --username=dispatch --role=admin
//	API_SECRET=... go run ./cmd/issue-token --username=driver33 --role=driver --route=33
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/mmdatafocus/routesync_backend/utils"
)

func main() {
	username := flag.String("username", "", "Required: username recorded as the actor of every change")
	role := flag.String("role", utils.RoleDriver, "admin or driver")
	route := flag.Int("route", 0, "Route number; required for drivers")
	userID := flag.Int("user-id", 0, "Optional numeric user id")
	flag.Parse()

	name := strings.TrimSpace(*username)
	if name == "" {
		fmt.Fprintln(os.Stderr, "--username is required")
		os.Exit(1)
	}
	switch *role {
	case utils.RoleAdmin:
	case utils.RoleDriver:
		if *route <= 0 {
			fmt.Fprintln(os.Stderr, "--route is required for drivers")
			os.Exit(1)
		}
	default:
		fmt.Fprintf(os.Stderr, "unknown role %q (want admin or driver)\n", *role)
		os.Exit(1)
	}

	token, err := utils.JwtGenerate(*userID, name, *role, *route)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to sign token: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
