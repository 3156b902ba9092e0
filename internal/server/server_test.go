package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/xuri/excelize/v2"
	"github.com/zulandar/waybill/internal/authcode"
	"github.com/zulandar/waybill/internal/config"
	"github.com/zulandar/waybill/internal/db"
	"github.com/zulandar/waybill/internal/dispatch"
	"github.com/zulandar/waybill/internal/media"
	"github.com/zulandar/waybill/internal/records"
	"github.com/zulandar/waybill/internal/session"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// --- fakes ---

type fakeSession struct {
	mu        sync.Mutex
	ensureErr error
	code      *session.PendingCode
	waitErr   error
	status    session.Status
	ensures   int
	resets    int
}

func (f *fakeSession) EnsureReady(ctx context.Context) (session.State, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ensures++
	return session.AwaitingCode, f.ensureErr
}

func (f *fakeSession) WaitForCode(ctx context.Context, maxAttempts int, interval time.Duration) (*session.PendingCode, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.code, f.waitErr
}

func (f *fakeSession) Reset(ctx context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets++
	f.status = session.Status{State: session.Idle}
}

func (f *fakeSession) Status() session.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

type fakeDispatcher struct {
	mu    sync.Mutex
	calls []sentBatch
	sum   *dispatch.Summary
	err   error
	panic bool
}

type sentBatch struct {
	recipients []dispatch.Recipient
	opts       dispatch.Options
}

func (f *fakeDispatcher) Send(ctx context.Context, rs []dispatch.Recipient, opts dispatch.Options) (*dispatch.Summary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panic {
		panic("channel exploded")
	}
	f.calls = append(f.calls, sentBatch{rs, opts})
	if f.err != nil {
		return f.sum, f.err
	}
	if f.sum != nil {
		return f.sum, nil
	}
	return &dispatch.Summary{BatchID: "b1", Total: len(rs), Attempted: len(rs), Successful: len(rs)}, nil
}

// --- rig ---

type rig struct {
	sess    *fakeSession
	disp    *fakeDispatcher
	media   *media.Store
	records *records.Store
	history *dispatch.History
	router  *gin.Engine
}

func newRig(t *testing.T) *rig {
	t.Helper()
	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, _ := gdb.DB()
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(gdb); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	ms, err := media.NewStore(config.MediaConfig{
		Dir:          filepath.Join(t.TempDir(), "uploads"),
		MaxSizeMB:    1,
		MaxFiles:     2,
		AllowedTypes: []string{"png", "jpg"},
	}, zerolog.Nop())
	if err != nil {
		t.Fatalf("media store: %v", err)
	}
	r := &rig{
		sess:    &fakeSession{},
		disp:    &fakeDispatcher{},
		media:   ms,
		records: records.NewStore(gdb),
		history: dispatch.NewHistory(gdb),
	}
	s, err := New(Options{
		Session:          r.sess,
		Dispatcher:       r.disp,
		History:          r.history,
		Media:            r.media,
		Records:          r.records,
		CodePollAttempts: 1,
		CodePollInterval: time.Millisecond,
		Logger:           zerolog.Nop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.router = s.Router()
	return r
}

func (r *rig) do(method, path string, body any) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		data, _ := json.Marshal(b)
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, req)
	return w
}

func (r *rig) upload(path, field string, files map[string][]byte) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for name, data := range files {
		fw, _ := mw.CreateFormFile(field, name)
		fw.Write(data)
	}
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

var twoRecipients = map[string]any{
	"messages": []map[string]any{
		{"country_code": "977", "number": "9812345678", "message": "hi"},
		{"country_code": "977", "number": 9800000002, "message": "hello"},
	},
}

// --- construction ---

func TestNew_RequiresDeps(t *testing.T) {
	if _, err := New(Options{}); err == nil || !strings.Contains(err.Error(), "session is required") {
		t.Errorf("err = %v, want session required", err)
	}
}

// --- session routes ---

func TestHealth(t *testing.T) {
	r := newRig(t)
	r.sess.status = session.Status{State: session.Ready, Ready: true, HasHandle: true}
	w := r.do(http.MethodGet, "/health", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	body := decode(t, w)
	sess := body["session"].(map[string]any)
	if body["status"] != "ok" || sess["state"] != "ready" || sess["ready"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestAuthCode_ReturnsCode(t *testing.T) {
	r := newRig(t)
	r.sess.code = &session.PendingCode{Artifact: authcode.Artifact{ImageURL: "data:image/png;base64,AAA", Terminal: "##"}}
	w := r.do(http.MethodGet, "/auth/code", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body)
	}
	body := decode(t, w)
	code := body["code"].(map[string]any)
	if body["success"] != true || body["ready"] != false || code["image"] != "data:image/png;base64,AAA" {
		t.Errorf("body = %v", body)
	}
}

func TestAuthCode_AlreadyReady(t *testing.T) {
	r := newRig(t)
	w := r.do(http.MethodGet, "/auth/code", nil)
	body := decode(t, w)
	if w.Code != http.StatusOK || body["ready"] != true || body["code"] != nil {
		t.Errorf("status=%d body=%v", w.Code, body)
	}
}

func TestAuthCode_JoinsInFlightInit(t *testing.T) {
	r := newRig(t)
	r.sess.ensureErr = session.ErrAlreadyInitializing
	r.sess.code = &session.PendingCode{Artifact: authcode.Artifact{ImageURL: "x"}}
	w := r.do(http.MethodGet, "/auth/code", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if r.sess.resets != 0 {
		t.Error("joining an in-flight init must not reset")
	}
}

func TestAuthCode_TimeoutResets(t *testing.T) {
	r := newRig(t)
	r.sess.waitErr = session.ErrCodeTimeout
	w := r.do(http.MethodGet, "/auth/code", nil)
	if w.Code != http.StatusRequestTimeout {
		t.Fatalf("status = %d, want 408", w.Code)
	}
	if body := decode(t, w); body["success"] != false {
		t.Errorf("body = %v", body)
	}
	if r.sess.resets != 1 {
		t.Errorf("resets = %d, want 1", r.sess.resets)
	}
}

func TestAuthCode_StartFailure(t *testing.T) {
	r := newRig(t)
	r.sess.ensureErr = errors.New("bridge unreachable")
	w := r.do(http.MethodGet, "/auth/code", nil)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if r.sess.resets != 1 {
		t.Errorf("resets = %d, want 1", r.sess.resets)
	}
}

func TestAuthCode_RetriesExhausted(t *testing.T) {
	r := newRig(t)
	r.sess.waitErr = session.ErrAuthFailureExceededRetries
	w := r.do(http.MethodGet, "/auth/code", nil)
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", w.Code)
	}
}

func TestSessionStatusAndReset(t *testing.T) {
	r := newRig(t)
	r.sess.status = session.Status{State: session.Ready, Ready: true, Retries: 2}
	body := decode(t, r.do(http.MethodGet, "/session/status", nil))
	if body["ready"] != true || body["retries"] != float64(2) || body["state"] != "ready" {
		t.Errorf("status body = %v", body)
	}

	w := r.do(http.MethodGet, "/session/reset", nil)
	body = decode(t, w)
	if w.Code != http.StatusOK || body["success"] != true || body["ready"] != false {
		t.Errorf("reset status=%d body=%v", w.Code, body)
	}
	if r.sess.resets != 1 {
		t.Errorf("resets = %d, want 1", r.sess.resets)
	}
}

// --- dispatch routes ---

func TestSend(t *testing.T) {
	r := newRig(t)
	req := map[string]any{"messages": twoRecipients["messages"], "customMessage": "Hi {name}"}
	w := r.do(http.MethodPost, "/messages/send", req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body)
	}
	body := decode(t, w)
	sum := body["summary"].(map[string]any)
	if body["success"] != true || sum["total"] != float64(2) {
		t.Errorf("body = %v", body)
	}
	if _, ok := body["results"].([]any); !ok {
		t.Errorf("results = %T, want array", body["results"])
	}
	call := r.disp.calls[0]
	if call.opts.Kind != "text" || call.opts.Template != "Hi {name}" {
		t.Errorf("opts = %+v", call.opts)
	}
	if call.recipients[1].Number != "9800000002" {
		t.Errorf("numeric number decoded as %q", call.recipients[1].Number)
	}
}

func TestSend_ErrorStatuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid batch", fmt.Errorf("%w: no recipients", dispatch.ErrInvalidBatch), http.StatusBadRequest},
		{"not ready", dispatch.ErrNotReady, http.StatusServiceUnavailable},
		{"busy", dispatch.ErrBusy, http.StatusConflict},
		{"session lost", dispatch.ErrSessionLost, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t)
			r.disp.err = tt.err
			w := r.do(http.MethodPost, "/messages/send", twoRecipients)
			if w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
			if body := decode(t, w); body["success"] != false {
				t.Errorf("body = %v", body)
			}
		})
	}
}

func TestSend_PartialSummaryOnBatchError(t *testing.T) {
	r := newRig(t)
	r.disp.err = dispatch.ErrSessionLost
	r.disp.sum = &dispatch.Summary{BatchID: "b9", Total: 2, Successful: 1, Results: []dispatch.Result{{Index: 0, Success: true}}}
	body := decode(t, r.do(http.MethodPost, "/messages/send", twoRecipients))
	if body["summary"] == nil || len(body["results"].([]any)) != 1 {
		t.Errorf("body = %v, want partial summary", body)
	}
}

func TestSend_MalformedBody(t *testing.T) {
	r := newRig(t)
	w := r.do(http.MethodPost, "/messages/send", "{")
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(r.disp.calls) != 0 {
		t.Error("dispatcher should not be called")
	}
}

func TestSend_PanicRecovered(t *testing.T) {
	r := newRig(t)
	r.disp.panic = true
	w := r.do(http.MethodPost, "/messages/send", twoRecipients)
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if body := decode(t, w); body["success"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestUploadThenSendWithMedia(t *testing.T) {
	r := newRig(t)
	w := r.upload("/media/upload", "images", map[string][]byte{"a.png": pngBytes(t)})
	if w.Code != http.StatusOK {
		t.Fatalf("upload status = %d body=%s", w.Code, w.Body)
	}
	paths := decode(t, w)["imagePaths"].([]any)
	if len(paths) != 1 {
		t.Fatalf("paths = %v", paths)
	}
	stored := paths[0].(string)
	if _, err := os.Stat(stored); err != nil {
		t.Fatalf("stored file missing: %v", err)
	}

	req := map[string]any{"messages": twoRecipients["messages"], "imagePaths": paths}
	w = r.do(http.MethodPost, "/messages/send-with-media", req)
	if w.Code != http.StatusOK {
		t.Fatalf("send status = %d body=%s", w.Code, w.Body)
	}
	opts := r.disp.calls[0].opts
	if opts.Kind != "media" || len(opts.Media) != 1 || opts.Media[0] != stored {
		t.Errorf("opts = %+v", opts)
	}
	if _, err := os.Stat(stored); !os.IsNotExist(err) {
		t.Errorf("upload not cleaned up after send: %v", err)
	}
}

func TestSendWithMedia_KeepsFilesOnFailure(t *testing.T) {
	r := newRig(t)
	stored, err := r.media.Save("a.png", bytes.NewReader(pngBytes(t)))
	if err != nil {
		t.Fatal(err)
	}
	r.disp.err = dispatch.ErrNotReady
	req := map[string]any{"messages": twoRecipients["messages"], "imagePaths": []string{stored}}
	if w := r.do(http.MethodPost, "/messages/send-with-media", req); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
	if _, err := os.Stat(stored); err != nil {
		t.Errorf("upload removed after failed send: %v", err)
	}
}

func TestSendWithMedia_RejectsOutsidePaths(t *testing.T) {
	r := newRig(t)
	outside := filepath.Join(t.TempDir(), "x.png")
	req := map[string]any{"messages": twoRecipients["messages"], "imagePaths": []string{outside}}
	if w := r.do(http.MethodPost, "/messages/send-with-media", req); w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if len(r.disp.calls) != 0 {
		t.Error("dispatcher should not be called")
	}
}

func TestUpload_Rejections(t *testing.T) {
	r := newRig(t)
	if w := r.upload("/media/upload", "images", nil); w.Code != http.StatusBadRequest {
		t.Errorf("empty upload status = %d, want 400", w.Code)
	}
	if w := r.upload("/media/upload", "images", map[string][]byte{"notes.txt": []byte("hi")}); w.Code != http.StatusBadRequest {
		t.Errorf("txt upload status = %d, want 400", w.Code)
	}
	three := map[string][]byte{"a.png": pngBytes(t), "b.png": pngBytes(t), "c.png": pngBytes(t)}
	if w := r.upload("/media/upload", "images", three); w.Code != http.StatusBadRequest {
		t.Errorf("too many status = %d, want 400", w.Code)
	}
}

func TestBatches(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "new"} {
		err := r.history.Record(ctx, dispatch.Summary{
			BatchID: id, Kind: "text", Outcome: "completed", Total: 1, Attempted: 1, Successful: 1,
			StartedAt: start.Add(time.Duration(i) * time.Hour), FinishedAt: start.Add(time.Duration(i)*time.Hour + time.Minute),
			Results: []dispatch.Result{{Index: 0, Number: "977981@c.us", Success: true}},
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	body := decode(t, r.do(http.MethodGet, "/messages/batches?limit=1", nil))
	batches := body["batches"].([]any)
	if len(batches) != 1 || batches[0].(map[string]any)["ID"] != "new" {
		t.Errorf("batches = %v", batches)
	}

	w := r.do(http.MethodGet, "/messages/batches/old", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("detail status = %d", w.Code)
	}
	batch := decode(t, w)["batch"].(map[string]any)
	if len(batch["Outcomes"].([]any)) != 1 {
		t.Errorf("batch = %v", batch)
	}

	if w := r.do(http.MethodGet, "/messages/batches/missing", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing batch status = %d, want 404", w.Code)
	}
}

// --- record routes ---

func TestRecordsCRUD(t *testing.T) {
	r := newRig(t)
	in := map[string]any{"Name of Ledger": "Hari Traders", "Under": "Sundry Debtors", "phone_number": "9812345678"}
	w := r.do(http.MethodPost, "/records", in)
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d body=%s", w.Code, w.Body)
	}
	id := int(decode(t, w)["_id"].(float64))

	w = r.do(http.MethodGet, fmt.Sprintf("/records/%d", id), nil)
	if w.Code != http.StatusOK || decode(t, w)["Name of Ledger"] != "Hari Traders" {
		t.Errorf("get status=%d body=%s", w.Code, w.Body)
	}

	in["Under"] = "Creditors"
	w = r.do(http.MethodPut, fmt.Sprintf("/records/%d", id), in)
	if w.Code != http.StatusOK || decode(t, w)["Under"] != "Creditors" {
		t.Errorf("update status=%d body=%s", w.Code, w.Body)
	}

	w = r.do(http.MethodGet, "/records/search/name/HARI", nil)
	var found []map[string]any
	json.Unmarshal(w.Body.Bytes(), &found)
	if len(found) != 1 {
		t.Errorf("search = %s", w.Body)
	}

	list := decode(t, r.do(http.MethodGet, "/records", nil))
	if len(list["data"].([]any)) != 1 {
		t.Errorf("list = %v", list)
	}

	w = r.do(http.MethodDelete, fmt.Sprintf("/records/%d", id), nil)
	if w.Code != http.StatusOK || decode(t, w)["message"] != "Record deleted successfully" {
		t.Errorf("delete status=%d body=%s", w.Code, w.Body)
	}
	if w := r.do(http.MethodGet, fmt.Sprintf("/records/%d", id), nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete status = %d, want 404", w.Code)
	}
}

func TestRecords_Errors(t *testing.T) {
	r := newRig(t)
	if w := r.do(http.MethodGet, "/records/abc", nil); w.Code != http.StatusBadRequest {
		t.Errorf("bad id status = %d, want 400", w.Code)
	}
	w := r.do(http.MethodPost, "/records", map[string]any{"Name of Ledger": "x"})
	if w.Code != http.StatusBadRequest || !strings.Contains(decode(t, w)["message"].(string), "Under") {
		t.Errorf("invalid create status=%d body=%s", w.Code, w.Body)
	}
	if w := r.do(http.MethodPut, "/records/99", map[string]any{"Name of Ledger": "a", "Under": "b", "phone_number": "1"}); w.Code != http.StatusNotFound {
		t.Errorf("update missing status = %d, want 404", w.Code)
	}
	if w := r.do(http.MethodDelete, "/records/99", nil); w.Code != http.StatusNotFound {
		t.Errorf("delete missing status = %d, want 404", w.Code)
	}
}

func TestRecordImport(t *testing.T) {
	r := newRig(t)

	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	f.SetSheetRow(sheet, "A1", &[]any{"Name of Ledger", "Under", "phone_number"})
	f.SetSheetRow(sheet, "A2", &[]any{"Hari Traders", "Sundry Debtors", 9812345678})
	f.SetSheetRow(sheet, "A3", &[]any{"Sita Stores", "Sundry Debtors", "9800000002"})
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	w := r.upload("/records/import", "file", map[string][]byte{"ledger.xlsx": buf.Bytes()})
	if w.Code != http.StatusCreated || decode(t, w)["imported"] != float64(2) {
		t.Fatalf("xlsx import status=%d body=%s", w.Code, w.Body)
	}

	jsonRows := []byte(`[{"Name of Ledger":"Ram","Under":"G","phone_number":9811111111}]`)
	w = r.upload("/records/import", "file", map[string][]byte{"ledger.json": jsonRows})
	if w.Code != http.StatusCreated || decode(t, w)["imported"] != float64(1) {
		t.Fatalf("json import status=%d body=%s", w.Code, w.Body)
	}

	all, _ := r.records.List(context.Background())
	if len(all) != 3 {
		t.Errorf("records = %d, want 3", len(all))
	}

	if w := r.upload("/records/import", "file", map[string][]byte{"ledger.csv": []byte("a,b")}); w.Code != http.StatusBadRequest {
		t.Errorf("csv status = %d, want 400", w.Code)
	}
	if w := r.upload("/records/import", "file", map[string][]byte{"broken.xlsx": []byte("nope")}); w.Code != http.StatusBadRequest {
		t.Errorf("broken xlsx status = %d, want 400", w.Code)
	}
	if w := r.do(http.MethodPost, "/records/import", nil); w.Code != http.StatusBadRequest {
		t.Errorf("no file status = %d, want 400", w.Code)
	}
}

func TestSendSheet(t *testing.T) {
	r := newRig(t)

	f := excelize.NewFile()
	sh := f.GetSheetName(0)
	f.SetSheetRow(sh, "A1", &[]any{"Country Code", "Number", "Name", "Category", "Price", "Min Quantity"})
	f.SetSheetRow(sh, "A2", &[]any{977, 9812345678, "Hari", "Rice", 1250, 10})
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	fw, _ := mw.CreateFormFile("file", "products.xlsx")
	fw.Write(buf.Bytes())
	mw.WriteField("template", "Hi {name}, {category} at {price}")
	mw.WriteField("skipPacing", "true")
	mw.Close()
	req := httptest.NewRequest(http.MethodPost, "/messages/send-sheet", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d body=%s", w.Code, w.Body)
	}
	if len(r.disp.calls) != 1 {
		t.Fatalf("dispatcher calls = %d", len(r.disp.calls))
	}
	call := r.disp.calls[0]
	if call.opts.Kind != "product" || !call.opts.SkipPacing || call.opts.Template != "Hi {name}, {category} at {price}" {
		t.Errorf("opts = %+v", call.opts)
	}
	if len(call.recipients) != 1 || call.recipients[0].Category != "Rice" || call.recipients[0].Price != 1250 {
		t.Errorf("recipients = %+v", call.recipients)
	}

	if w := r.upload("/messages/send-sheet", "file", map[string][]byte{"products.json": []byte("[]")}); w.Code != http.StatusBadRequest {
		t.Errorf("json status = %d, want 400", w.Code)
	}
	if w := r.do(http.MethodPost, "/messages/send-sheet", nil); w.Code != http.StatusBadRequest {
		t.Errorf("no file status = %d, want 400", w.Code)
	}
}

// --- plumbing ---

func TestCORSPreflight(t *testing.T) {
	r := newRig(t)
	w := r.do(http.MethodOptions, "/messages/send", nil)
	if w.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}
}

func TestMetricsAndNotFound(t *testing.T) {
	r := newRig(t)
	w := r.do(http.MethodGet, "/metrics", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "# HELP") {
		t.Errorf("metrics status=%d", w.Code)
	}
	if w := r.do(http.MethodGet, "/nope", nil); w.Code != http.StatusNotFound {
		t.Errorf("unknown route status = %d, want 404", w.Code)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{media.ErrTooLarge, http.StatusBadRequest},
		{records.ErrNotFound, http.StatusNotFound},
		{session.ErrAlreadyInitializing, http.StatusConflict},
		{session.ErrReadyTimeout, http.StatusRequestTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(fmt.Errorf("wrapped: %w", tt.err)); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
