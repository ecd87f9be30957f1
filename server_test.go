package main

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/routesync_backend/config"
	"github.com/mmdatafocus/routesync_backend/models"
	"github.com/mmdatafocus/routesync_backend/utils"
	"github.com/mmdatafocus/routesync_backend/workflow"
)

func newTestServer(t *testing.T) (*application, *gin.Engine) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	t.Setenv("EXCLUDED_ROUTES", "1,3")

	dir := t.TempDir()
	path := filepath.Join(dir, "live.db")
	db, err := config.OpenSQLite(path)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := models.AutoMigrateAll(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	store := workflow.NewLiveStore(path, db, workflow.NewBackupManager(filepath.Join(dir, "backups"), nil), nil, nil)
	t.Cleanup(func() {
		if sqlDB, err := store.DB().DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	app := &application{logger: config.GetLogger()}
	router := newRouter(app)
	app.attach(store, filepath.Join(dir, "uploads"))
	return app, router
}

func bearer(t *testing.T, username, role string, route int) string {
	t.Helper()
	token, err := utils.JwtGenerate(1, username, role, route)
	if err != nil {
		t.Fatalf("JwtGenerate: %v", err)
	}
	return "Bearer " + token
}

func multipartBody(t *testing.T, fileName, content string, fields map[string]string) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for k, v := range fields {
		if err := w.WriteField(k, v); err != nil {
			t.Fatalf("write field: %v", err)
		}
	}
	fw, err := w.CreateFormFile("file", fileName)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := fw.Write([]byte(content)); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func do(t *testing.T, r *gin.Engine, method, path, auth string, body io.Reader, contentType string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func doJSON(t *testing.T, r *gin.Engine, method, path, auth string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return do(t, r, method, path, auth, bytes.NewReader(raw), "application/json")
}

func decode(t *testing.T, w *httptest.ResponseRecorder, dest any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), dest); err != nil {
		t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
}

func TestServer_HealthAndAuth(t *testing.T) {
	_, r := newTestServer(t)

	if w := do(t, r, http.MethodGet, "/healthz", "", nil, ""); w.Code != http.StatusNoContent {
		t.Fatalf("healthz = %d", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/history", "", nil, ""); w.Code != http.StatusUnauthorized {
		t.Fatalf("anonymous history = %d, want 401", w.Code)
	}
	driver := bearer(t, "driver33", utils.RoleDriver, 33)
	if w := do(t, r, http.MethodGet, "/history", driver, nil, ""); w.Code != http.StatusForbidden {
		t.Fatalf("driver history = %d, want 403", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/pending-changes/abc", driver, nil, ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad route number = %d, want 400", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/nope", driver, nil, ""); w.Code != http.StatusNotFound {
		t.Fatalf("unknown path = %d, want 404", w.Code)
	}
}

func TestServer_NotReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := newRouter(&application{logger: config.GetLogger()})

	if w := do(t, r, http.MethodGet, "/backups", "", nil, ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if w := do(t, r, http.MethodGet, "/healthz", "", nil, ""); w.Code != http.StatusNoContent {
		t.Fatalf("healthz = %d, want 204", w.Code)
	}
}

func TestServer_ImageUploadNotImplemented(t *testing.T) {
	app, r := newTestServer(t)
	driver := bearer(t, "driver33", utils.RoleDriver, 33)

	body, ct := multipartBody(t, "route.jpg", "\xff\xd8\xff", nil)
	w := do(t, r, http.MethodPost, "/stage-customer-shells", driver, body, ct)
	if w.Code != http.StatusNotImplemented {
		t.Fatalf("status = %d, want 501 (body %s)", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), "not yet implemented") {
		t.Fatalf("unexpected body %s", w.Body.String())
	}
	var n int64
	app.store.DB().Model(&models.StagedChange{}).Count(&n)
	if n != 0 {
		t.Fatalf("image upload staged %d rows", n)
	}

	body, ct = multipartBody(t, "route.exe", "MZ", nil)
	if w := do(t, r, http.MethodPost, "/stage-customer-shells", driver, body, ct); w.Code != http.StatusBadRequest {
		t.Fatalf("unsupported extension = %d, want 400", w.Code)
	}
}

const customersCSV = "customer_number,account_name,address,city,zip_code\n" +
	"1,Alpha,1 Main St,Sacramento,95814\n" +
	"2,Bravo,2 Main St,Davis,95616\n" +
	",Missing Number,,,\n"

func TestServer_PreviewApplyRollback(t *testing.T) {
	app, r := newTestServer(t)
	admin := bearer(t, "admin", utils.RoleAdmin, 0)

	body, ct := multipartBody(t, "customers.csv", customersCSV, map[string]string{"updateType": "customers"})
	w := do(t, r, http.MethodPost, "/upload", admin, body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("upload = %d: %s", w.Code, w.Body.String())
	}
	var preview workflow.PreviewResult
	decode(t, w, &preview)
	if preview.UpdateId == "" || preview.NewRecords != 2 || len(preview.RejectedRows) != 1 {
		t.Fatalf("unexpected preview %+v", preview)
	}

	if w := do(t, r, http.MethodGet, "/status/"+preview.UpdateId, admin, nil, ""); w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}

	w = doJSON(t, r, http.MethodPost, "/apply", admin, map[string]any{"updateId": preview.UpdateId, "selectedChanges": []string{}})
	var noop workflow.ApplyResult
	decode(t, w, &noop)
	if w.Code != http.StatusOK || noop.AppliedChanges != 0 {
		t.Fatalf("empty selection = %d %+v", w.Code, noop)
	}

	w = doJSON(t, r, http.MethodPost, "/apply", admin, map[string]any{"updateId": preview.UpdateId})
	var applied workflow.ApplyResult
	decode(t, w, &applied)
	if w.Code != http.StatusOK || applied.AppliedChanges != 2 || applied.BackupPath == "" {
		t.Fatalf("apply = %d %+v", w.Code, applied)
	}

	w = do(t, r, http.MethodGet, "/history?limit=5", admin, nil, "")
	var history struct {
		History []models.UpdateHistory `json:"history"`
	}
	decode(t, w, &history)
	if len(history.History) != 1 || history.History[0].UpdateId != preview.UpdateId {
		t.Fatalf("history = %+v", history)
	}

	driver := bearer(t, "driver33", utils.RoleDriver, 33)
	if w := doJSON(t, r, http.MethodPost, "/rollback", driver, map[string]any{"updateId": preview.UpdateId}); w.Code != http.StatusForbidden {
		t.Fatalf("driver rollback = %d, want 403", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/rollback", admin, map[string]any{"updateId": preview.UpdateId}); w.Code != http.StatusOK {
		t.Fatalf("rollback = %d: %s", w.Code, w.Body.String())
	}
	var n int64
	app.store.DB().Model(&models.Customer{}).Count(&n)
	if n != 0 {
		t.Fatalf("rollback left %d customers", n)
	}
	if w := doJSON(t, r, http.MethodPost, "/rollback", admin, map[string]any{"updateId": preview.UpdateId}); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("second rollback = %d, want 422", w.Code)
	}
}

const routeOptimizationCSV = "LocationID,dlvr_name,dlvr_Addr,dlvr_city,dlvr_state,dlvr_Zip,Territory\n" +
	"101,Corner Cafe,5 Oak Ave,Sacramento,CA,95814,SAC-33\n" +
	"102,Bay Diner,9 Elm St,Oakland,CA,94601,OAK-34\n"

func TestServer_StageReviewValidate(t *testing.T) {
	app, r := newTestServer(t)
	driver := bearer(t, "driver33", utils.RoleDriver, 33)

	body, ct := multipartBody(t, "export.csv", routeOptimizationCSV, map[string]string{"batch_id": "b-1"})
	w := do(t, r, http.MethodPost, "/stage-customer-shells", driver, body, ct)
	if w.Code != http.StatusOK {
		t.Fatalf("stage = %d: %s", w.Code, w.Body.String())
	}
	var staged workflow.StageResult
	decode(t, w, &staged)
	if staged.Staged != 1 || staged.BatchId != "b-1" {
		t.Fatalf("unexpected stage result %+v", staged)
	}

	w = do(t, r, http.MethodGet, "/pending-changes/33", driver, nil, "")
	var pending struct {
		TotalChanges int                   `json:"total_changes"`
		Batches      []models.PendingBatch `json:"batches"`
	}
	decode(t, w, &pending)
	if pending.TotalChanges != 1 || len(pending.Batches) != 1 {
		t.Fatalf("pending = %+v", pending)
	}
	if w := do(t, r, http.MethodGet, "/pending-changes/34", driver, nil, ""); w.Code != http.StatusForbidden {
		t.Fatalf("other route = %d, want 403", w.Code)
	}

	w = do(t, r, http.MethodGet, "/pending-changes/33/export", driver, nil, "")
	if w.Code != http.StatusOK || !strings.Contains(w.Header().Get("Content-Type"), "spreadsheetml") || w.Body.Len() == 0 {
		t.Fatalf("export = %d %q", w.Code, w.Header().Get("Content-Type"))
	}

	id := pending.Batches[0].Changes[0].ID
	if w := doJSON(t, r, http.MethodPost, "/validate-changes/33", driver, map[string]any{"approved_change_ids": []int{id, 999}}); w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unknown id = %d, want 422", w.Code)
	}
	w = doJSON(t, r, http.MethodPost, "/validate-changes/33", driver, map[string]any{"approved_change_ids": []int{id}})
	if w.Code != http.StatusOK {
		t.Fatalf("validate = %d: %s", w.Code, w.Body.String())
	}
	var c models.Customer
	if err := app.store.DB().Where("customer_number = ?", 101).Take(&c).Error; err != nil {
		t.Fatalf("validated customer not written: %v", err)
	}
	if c.RouteNumber == nil || *c.RouteNumber != 33 {
		t.Fatalf("unexpected customer %+v", c)
	}
}

func TestServer_Backups(t *testing.T) {
	_, r := newTestServer(t)
	admin := bearer(t, "admin", utils.RoleAdmin, 0)

	w := doJSON(t, r, http.MethodPost, "/backup/create", admin, map[string]string{"reason": "nightly"})
	if w.Code != http.StatusOK {
		t.Fatalf("create = %d: %s", w.Code, w.Body.String())
	}
	var created struct {
		Backup workflow.BackupInfo `json:"backup"`
	}
	decode(t, w, &created)

	w = do(t, r, http.MethodGet, "/backups", admin, nil, "")
	var list struct {
		Backups []workflow.BackupInfo `json:"backups"`
	}
	decode(t, w, &list)
	if len(list.Backups) != 1 || list.Backups[0].Name != created.Backup.Name || list.Backups[0].Reason != "nightly" {
		t.Fatalf("backups = %+v", list)
	}

	if w := doJSON(t, r, http.MethodPost, "/restore", admin, map[string]string{"backupName": "../live.db"}); w.Code != http.StatusNotFound {
		t.Fatalf("traversal restore = %d, want 404", w.Code)
	}
	if w := doJSON(t, r, http.MethodPost, "/restore", admin, map[string]string{"backupName": created.Backup.Name}); w.Code != http.StatusOK {
		t.Fatalf("restore = %d: %s", w.Code, w.Body.String())
	}
}
