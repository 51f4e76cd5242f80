package alerting

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

const getMeBody = `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"Bot","username":"criptoiq_bot"}}`

type telegramServer struct {
	mu      sync.Mutex
	forms   map[string]map[string]string
	updates string
}

func (s *telegramServer) handler(t *testing.T) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		if !strings.HasPrefix(r.URL.Path, "/bottoken/") {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			_ = r.ParseMultipartForm(1 << 20)
		} else {
			_ = r.ParseForm()
		}
		form := make(map[string]string)
		for k := range r.Form {
			form[k] = r.Form.Get(k)
		}
		s.mu.Lock()
		s.forms[method] = form
		s.mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "getMe":
			_, _ = w.Write([]byte(getMeBody))
		case "sendMessage", "sendPhoto":
			_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"}}}`))
		case "getUpdates":
			_, _ = w.Write([]byte(s.updates))
		default:
			_, _ = w.Write([]byte(`{"ok":false,"error_code":404,"description":"Not Found"}`))
		}
	}
}

func newTelegramTest(t *testing.T) (*Telegram, *telegramServer) {
	t.Helper()
	state := &telegramServer{forms: make(map[string]map[string]string)}
	srv := httptest.NewServer(state.handler(t))
	t.Cleanup(srv.Close)

	tg, err := NewTelegram(TelegramOptions{Token: "token", APIEndpoint: srv.URL + "/bot%s/%s"}, testLogger())
	if err != nil {
		t.Fatalf("telegram should authorise: %v", err)
	}
	return tg, state
}

func TestTelegramSendText(t *testing.T) {
	tg, state := newTelegramTest(t)

	if err := tg.SendText(context.Background(), "42", "hello"); err != nil {
		t.Fatalf("send should succeed: %v", err)
	}
	form := state.forms["sendMessage"]
	if form["chat_id"] != "42" || form["text"] != "hello" {
		t.Fatalf("unexpected form %#v", form)
	}
}

func TestTelegramSendTextRejectsBadChat(t *testing.T) {
	tg, _ := newTelegramTest(t)
	if err := tg.SendText(context.Background(), "not-a-chat", "x"); err == nil {
		t.Fatal("non-numeric chat id should fail")
	}
}

func TestTelegramReceivePending(t *testing.T) {
	tg, state := newTelegramTest(t)
	state.updates = `{"ok":true,"result":[
		{"update_id":7,"message":{"message_id":1,"date":0,"chat":{"id":42,"type":"private"},"from":{"id":5,"is_bot":false,"first_name":"A","username":"alice"},"text":"/alarms"}},
		{"update_id":8,"edited_message":{"message_id":2,"date":0,"chat":{"id":42,"type":"private"},"text":"edit"}}
	]}`

	msgs, next, err := tg.ReceivePending(context.Background(), 6)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if next != 8 {
		t.Fatalf("cursor should advance past every update, got %d", next)
	}
	if len(msgs) != 1 || msgs[0].ChatID != "42" || msgs[0].Text != "/alarms" || msgs[0].From != "alice" {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if state.forms["getUpdates"]["offset"] != "7" {
		t.Fatalf("offset should be cursor+1, got %#v", state.forms["getUpdates"])
	}
}

func TestTelegramRequiresToken(t *testing.T) {
	if _, err := NewTelegram(TelegramOptions{}, testLogger()); err == nil {
		t.Fatal("missing token should fail")
	}
}
