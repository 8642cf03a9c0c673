package ops

import (
	"testing"
	"time"

	"main/pkg/exception"

	"github.com/yanun0323/errors"
)

const sampleConfig = `{
  "sessions": [
    {
      "name": "broker-a",
      "host": "10.0.0.5",
      "port": 9876,
      "senderCompId": "DESK",
      "targetCompId": "BROKERA",
      "heartbeatSeconds": 30,
      "connectOnStartup": true
    },
    {
      "name": "broker-b",
      "host": "10.0.0.6",
      "port": 9876,
      "beginString": "FIX.4.2",
      "senderCompId": "DESK",
      "targetCompId": "BROKERB"
    }
  ],
  "store": {"backend": "pebble", "path": "/var/lib/engine/seq"},
  "journal": {"enable": true, "dir": "/var/log/engine", "tailSize": 256},
  "admin": {"enable": true, "socket": "/tmp/engine.sock"}
}`

func TestParseResolvesSessions(t *testing.T) {
	loaded, err := Parse([]byte(sampleConfig))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if len(loaded.Sessions) != 2 {
		t.Fatalf("sessions = %d, want 2", len(loaded.Sessions))
	}

	a := loaded.Sessions[0]
	if a.Config.Name != "broker-a" || !a.ConnectOnStartup {
		t.Fatalf("first session = %+v", a)
	}
	if a.Config.HeartbeatInterval != 30*time.Second {
		t.Fatalf("heartbeat = %v, want 30s", a.Config.HeartbeatInterval)
	}
	if a.Config.BeginString != "FIX.4.4" {
		t.Fatalf("default begin string = %q", a.Config.BeginString)
	}
	if got := a.Config.Addr(); got != "10.0.0.5:9876" {
		t.Fatalf("addr = %q", got)
	}

	b := loaded.Sessions[1]
	if b.Config.BeginString != "FIX.4.2" || b.ConnectOnStartup {
		t.Fatalf("second session = %+v", b)
	}

	if loaded.Store.Backend != StorePebble || loaded.Store.Path != "/var/lib/engine/seq" {
		t.Fatalf("store = %+v", loaded.Store)
	}
	if !loaded.JournalEnabled || loaded.Journal.Dir != "/var/log/engine" || loaded.Journal.TailSize != 256 {
		t.Fatalf("journal = %+v", loaded.Journal)
	}
	if !loaded.Admin.Enable || loaded.Admin.Socket != "/tmp/engine.sock" {
		t.Fatalf("admin = %+v", loaded.Admin)
	}
}

func TestParseRejectsBadConfigs(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"no sessions", `{"sessions": []}`},
		{"missing host", `{"sessions":[{"name":"a","port":1,"senderCompId":"X","targetCompId":"Y"}]}`},
		{"bad port", `{"sessions":[{"name":"a","host":"h","port":70000,"senderCompId":"X","targetCompId":"Y"}]}`},
		{"duplicate names", `{"sessions":[
			{"name":"a","host":"h","port":1,"senderCompId":"X","targetCompId":"Y"},
			{"name":"a","host":"h","port":2,"senderCompId":"X","targetCompId":"Z"}]}`},
		{"unknown backend", `{"sessions":[{"name":"a","host":"h","port":1,"senderCompId":"X","targetCompId":"Y"}],
			"store":{"backend":"redis"}}`},
		{"file store without path", `{"sessions":[{"name":"a","host":"h","port":1,"senderCompId":"X","targetCompId":"Y"}],
			"store":{"backend":"file"}}`},
		{"journal without dir", `{"sessions":[{"name":"a","host":"h","port":1,"senderCompId":"X","targetCompId":"Y"}],
			"journal":{"enable":true}}`},
	}
	for _, c := range cases {
		if _, err := Parse([]byte(c.body)); !errors.Is(err, exception.ErrInvalidArgument) {
			t.Errorf("%s: err = %v, want ErrInvalidArgument", c.name, err)
		}
	}
}

func TestParseDefaultsStoreBackend(t *testing.T) {
	loaded, err := Parse([]byte(`{"sessions":[{"name":"a","host":"h","port":1,"senderCompId":"X","targetCompId":"Y"}]}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if loaded.Store.Backend != StoreMemory {
		t.Fatalf("default backend = %q, want memory", loaded.Store.Backend)
	}
}
