package engine

import (
	"bufio"
	"context"
	"path/filepath"
	"testing"

	"main/pkg/uds"

	"github.com/bytedance/sonic"
)

func adminRoundTrip(t *testing.T, client *uds.Client, req adminRequest) adminResponse {
	t.Helper()
	c, err := client.Dial()
	if err != nil {
		t.Fatalf("dial admin socket: %v", err)
	}
	defer c.Close()

	line, err := sonic.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	if _, err := c.Write(append(line, '\n')); err != nil {
		t.Fatalf("write request: %v", err)
	}

	sc := bufio.NewScanner(c)
	if !sc.Scan() {
		t.Fatalf("no response: %v", sc.Err())
	}
	var resp adminResponse
	if err := sonic.Unmarshal(sc.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func TestAdminSocket(t *testing.T) {
	coord := newCoordinator(t)
	socket := filepath.Join(t.TempDir(), "engine.sock")

	admin, err := NewAdmin(socket, coord)
	if err != nil {
		t.Fatalf("new admin: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	if err := admin.Start(ctx); err != nil {
		cancel()
		t.Fatalf("start admin: %v", err)
	}
	t.Cleanup(admin.Close)
	t.Cleanup(cancel)

	client, err := uds.NewClient(socket)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	resp := adminRoundTrip(t, client, adminRequest{Op: "sessions"})
	if !resp.OK || len(resp.Sessions) != 2 {
		t.Fatalf("sessions response = %+v", resp)
	}
	if resp.Sessions[0].Name != "broker-a" || resp.Sessions[1].Name != "broker-b" {
		t.Fatalf("session names = %s/%s", resp.Sessions[0].Name, resp.Sessions[1].Name)
	}

	resp = adminRoundTrip(t, client, adminRequest{Op: "connect", Session: "ghost"})
	if resp.OK || resp.Error == "" {
		t.Fatalf("connect ghost response = %+v", resp)
	}

	resp = adminRoundTrip(t, client, adminRequest{Op: "stats"})
	if !resp.OK || resp.Stats == nil {
		t.Fatalf("stats response = %+v", resp)
	}

	resp = adminRoundTrip(t, client, adminRequest{Op: "bogus"})
	if resp.OK {
		t.Fatal("bogus op accepted")
	}
}
