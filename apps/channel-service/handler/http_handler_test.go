package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	kratoslog "github.com/go-kratos/kratos/v2/log"

	"goim-channel/apps/channel-service/dao"
	"goim-channel/apps/channel-service/model"
	"goim-channel/apps/channel-service/service"
	"goim-channel/pkg/auth"
	"goim-channel/pkg/keylock"
	"goim-channel/pkg/logger"
	"goim-channel/pkg/middleware"
)

var testJWT = &auth.JWTConfig{Secret: "handler-test", ExpireTime: time.Hour}

type nopBroadcaster struct{}

func (nopBroadcaster) Publish(string, string, interface{}) {}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.NewNop()
	store := dao.NewMemoryStore()
	svc := service.NewService(service.Dependencies{
		Channels:    store,
		Messages:    store,
		Notifier:    service.NewNotifier(store, nil, "", log),
		Users:       service.NewUserDirectory(store, nil, 0, log),
		Audit:       store,
		Broadcaster: nopBroadcaster{},
		Locker:      keylock.NewLocalLocker(),
	}, service.Options{ReportThreshold: 2, OpTimeout: 5 * time.Second}, log)

	r := gin.New()
	r.Use(middleware.NewAuthMiddleware(kratoslog.DefaultLogger, testJWT).GinAuth())
	NewHTTPHandler(svc, log).RegisterRoutes(r)
	return r
}

func token(t *testing.T, userID string, role model.Role) string {
	t.Helper()
	tok, err := auth.GenerateToken(testJWT, userID, string(role))
	if err != nil {
		t.Fatalf("GenerateToken() error = %v", err)
	}
	return tok
}

func do(t *testing.T, r http.Handler, method, path, tok string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var env envelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("%s %s: invalid response %q: %v", method, path, w.Body.String(), err)
	}
	return w.Code, env
}

// decodeData 解析响应中的 data 字段
func decodeData(t *testing.T, env envelope, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode %T from %s: %v", v, env.Data, err)
	}
}

func TestHTTP_RequiresToken(t *testing.T) {
	r := newTestRouter(t)

	code, env := do(t, r, http.MethodGet, "/api/v1/channel/list", "", nil)
	if code != http.StatusUnauthorized || env.Success {
		t.Errorf("code = %d success = %v, want 401 failure", code, env.Success)
	}

	code, _ = do(t, r, http.MethodGet, "/api/v1/channel/list", "not-a-token", nil)
	if code != http.StatusUnauthorized {
		t.Errorf("code = %d with bad token, want 401", code)
	}
}

func TestHTTP_InvalidRoleRejected(t *testing.T) {
	r := newTestRouter(t)

	code, _ := do(t, r, http.MethodGet, "/api/v1/channel/list", token(t, "u1", "guest"), nil)
	if code != http.StatusUnauthorized {
		t.Errorf("code = %d, want 401", code)
	}
}

func TestHTTP_ChannelLifecycle(t *testing.T) {
	r := newTestRouter(t)
	fac := token(t, "F", model.RoleFaculty)
	stu := token(t, "S", model.RoleStudent)

	code, env := do(t, r, http.MethodPost, "/api/v1/channel/create", stu, CreateChannelRequest{Name: "c"})
	if code != http.StatusForbidden {
		t.Fatalf("student create code = %d, want 403", code)
	}

	code, _ = do(t, r, http.MethodPost, "/api/v1/channel/create", fac, map[string]string{"description": "x"})
	if code != http.StatusBadRequest {
		t.Fatalf("missing name code = %d, want 400", code)
	}

	code, env = do(t, r, http.MethodPost, "/api/v1/channel/create", fac, CreateChannelRequest{Name: "algorithms"})
	if code != http.StatusOK || !env.Success {
		t.Fatalf("create code = %d message = %q", code, env.Message)
	}
	var ch model.Channel
	decodeData(t, env, &ch)
	if ch.CreatorID != "F" || len(ch.Members) != 1 {
		t.Fatalf("channel = %+v", ch)
	}

	code, env = do(t, r, http.MethodPost, "/api/v1/channel/join", stu, ChannelRequest{ChannelID: ch.ID})
	if code != http.StatusOK {
		t.Fatalf("join code = %d message = %q", code, env.Message)
	}
	var join model.JoinResult
	decodeData(t, env, &join)
	if join.Status != model.JoinStatusPending {
		t.Errorf("join status = %q, want %q", join.Status, model.JoinStatusPending)
	}

	code, env = do(t, r, http.MethodPost, "/api/v1/channel/join", stu, ChannelRequest{ChannelID: ch.ID})
	if code != http.StatusConflict {
		t.Errorf("second join code = %d, want 409", code)
	}

	code, _ = do(t, r, http.MethodPost, "/api/v1/channel/approve", stu, MemberRequest{ChannelID: ch.ID, UserID: "S"})
	if code != http.StatusForbidden {
		t.Errorf("student approve code = %d, want 403", code)
	}

	code, env = do(t, r, http.MethodPost, "/api/v1/channel/approve", fac, MemberRequest{ChannelID: ch.ID, UserID: "S"})
	if code != http.StatusOK {
		t.Fatalf("approve code = %d message = %q", code, env.Message)
	}

	code, env = do(t, r, http.MethodPost, "/api/v1/channel/info", stu, ChannelRequest{ChannelID: ch.ID})
	if code != http.StatusOK {
		t.Fatalf("info code = %d", code)
	}
	var view model.ChannelView
	decodeData(t, env, &view)
	if len(view.MemberProfiles) != 2 {
		t.Errorf("member profiles = %d, want 2", len(view.MemberProfiles))
	}

	code, _ = do(t, r, http.MethodPost, "/api/v1/channel/info", stu, ChannelRequest{ChannelID: "missing"})
	if code != http.StatusNotFound {
		t.Errorf("missing channel code = %d, want 404", code)
	}

	code, _ = do(t, r, http.MethodPost, "/api/v1/channel/delete", stu, ChannelRequest{ChannelID: ch.ID})
	if code != http.StatusForbidden {
		t.Errorf("student delete code = %d, want 403", code)
	}
	code, _ = do(t, r, http.MethodPost, "/api/v1/channel/delete", fac, ChannelRequest{ChannelID: ch.ID})
	if code != http.StatusOK {
		t.Errorf("delete code = %d, want 200", code)
	}
}

func TestHTTP_MessageFlow(t *testing.T) {
	r := newTestRouter(t)
	fac := token(t, "F", model.RoleFaculty)
	stu := token(t, "S", model.RoleStudent)

	_, env := do(t, r, http.MethodPost, "/api/v1/channel/create", fac, CreateChannelRequest{Name: "lobby", IsGeneral: true})
	var ch model.Channel
	decodeData(t, env, &ch)
	r1 := token(t, "R1", model.RoleStudent)
	r2 := token(t, "R2", model.RoleStudent)
	for _, tok := range []string{stu, r1, r2} {
		if code, env := do(t, r, http.MethodPost, "/api/v1/channel/join", tok, ChannelRequest{ChannelID: ch.ID}); code != http.StatusOK {
			t.Fatalf("join code = %d message = %q", code, env.Message)
		}
	}

	code, env := do(t, r, http.MethodPost, "/api/v1/message/post", stu, PostMessageRequest{ChannelID: ch.ID, Content: "hello"})
	if code != http.StatusOK {
		t.Fatalf("post code = %d message = %q", code, env.Message)
	}
	var msg model.MessageView
	decodeData(t, env, &msg)

	code, env = do(t, r, http.MethodGet, "/api/v1/message/list?channel_id="+ch.ID, stu, nil)
	if code != http.StatusOK {
		t.Fatalf("list code = %d", code)
	}
	var list []model.MessageView
	decodeData(t, env, &list)
	if len(list) != 1 || list[0].Content != "hello" {
		t.Errorf("messages = %+v", list)
	}

	code, _ = do(t, r, http.MethodGet, "/api/v1/message/list", stu, nil)
	if code != http.StatusBadRequest {
		t.Errorf("list without channel_id code = %d, want 400", code)
	}

	code, _ = do(t, r, http.MethodPost, "/api/v1/message/pin", stu, PinMessageRequest{MessageID: msg.ID, Pinned: true})
	if code != http.StatusForbidden {
		t.Errorf("student pin code = %d, want 403", code)
	}
	code, _ = do(t, r, http.MethodPost, "/api/v1/message/pin", fac, PinMessageRequest{MessageID: msg.ID, Pinned: true})
	if code != http.StatusOK {
		t.Errorf("faculty pin code = %d, want 200", code)
	}

	// 阈值为2，第二次举报触发封禁
	code, env = do(t, r, http.MethodPost, "/api/v1/message/report", r1, MessageRequest{MessageID: msg.ID})
	if code != http.StatusOK {
		t.Fatalf("report code = %d message = %q", code, env.Message)
	}
	code, _ = do(t, r, http.MethodPost, "/api/v1/message/report", r1, MessageRequest{MessageID: msg.ID})
	if code != http.StatusConflict {
		t.Errorf("duplicate report code = %d, want 409", code)
	}
	_, env = do(t, r, http.MethodPost, "/api/v1/message/report", r2, MessageRequest{MessageID: msg.ID})
	var result model.ReportResult
	decodeData(t, env, &result)
	if result.ReportCount != 2 || !result.Banned {
		t.Errorf("report result = %+v, want {2 true}", result)
	}

	code, _ = do(t, r, http.MethodPost, "/api/v1/channel/join", stu, ChannelRequest{ChannelID: ch.ID})
	if code != http.StatusForbidden {
		t.Errorf("banned rejoin code = %d, want 403", code)
	}

	code, env = do(t, r, http.MethodGet, "/api/v1/channel/audit?channel_id="+ch.ID, fac, nil)
	if code != http.StatusOK {
		t.Fatalf("audit code = %d", code)
	}
	var logs []model.ModerationLog
	decodeData(t, env, &logs)
	if len(logs) == 0 {
		t.Error("audit log is empty after auto-ban")
	}
	code, _ = do(t, r, http.MethodGet, "/api/v1/channel/audit?channel_id="+ch.ID, stu, nil)
	if code != http.StatusForbidden {
		t.Errorf("student audit code = %d, want 403", code)
	}
}
