package tunnel

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/bobbyrathoree/tunneldash/internal/process"
)

func TestCreateRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     CreateRequest
		wantErr string
	}{
		{"valid quick", CreateRequest{Provider: ProviderCloudflared, LocalPort: 3000}, ""},
		{"valid ngrok", CreateRequest{Provider: ProviderNgrok, LocalPort: 65535}, ""},
		{"missing provider", CreateRequest{LocalPort: 3000}, "provider is required"},
		{"port zero", CreateRequest{Provider: ProviderNgrok}, "port 0 must be between 1 and 65535"},
		{"port too large", CreateRequest{Provider: ProviderNgrok, LocalPort: 65536}, "must be between 1 and 65535"},
		{"local mode needs name", CreateRequest{Provider: ProviderCloudflared, LocalPort: 3000, Mode: ModeLocal, Domain: "a.example.com"}, "tunnelName is required"},
		{"local mode needs domain", CreateRequest{Provider: ProviderCloudflared, LocalPort: 3000, Mode: ModeLocal, TunnelName: "t"}, "domain is required"},
		{"unknown mode", CreateRequest{Provider: ProviderCloudflared, LocalPort: 3000, Mode: "warp"}, `unknown cloudflared mode "warp"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidRequest) {
				t.Fatalf("expected ErrInvalidRequest, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestCreateRequest_Config(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	cfg := CreateRequest{Provider: ProviderCloudflared, LocalPort: 5173}.config("id-1", now)
	if cfg.Name != "cloudflared:5173" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.LocalHost != "localhost" {
		t.Errorf("LocalHost = %q", cfg.LocalHost)
	}
	if cfg.Mode != ModeQuick {
		t.Errorf("Mode = %q", cfg.Mode)
	}
	if !cfg.CreatedAt.Equal(now) || cfg.ID != "id-1" {
		t.Errorf("unexpected identity %+v", cfg)
	}
	if cfg.TargetURL() != "http://localhost:5173" {
		t.Errorf("TargetURL() = %q", cfg.TargetURL())
	}

	cfg = CreateRequest{Provider: ProviderNgrok, Name: "api", LocalHost: "127.0.0.1", LocalPort: 8080}.config("id-2", now)
	if cfg.Name != "api" || cfg.Target() != "127.0.0.1:8080" || cfg.Mode != "" {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestInstance_Lifecycle(t *testing.T) {
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	inst := newInstance(Config{ID: "t1"}, start)

	var notified int
	inst.notify = func(*Instance) { notified++ }

	if inst.Status() != StatusStarting {
		t.Fatalf("initial status %s", inst.Status())
	}
	if inst.Uptime(start.Add(time.Minute)) != 0 {
		t.Error("uptime should be zero while starting")
	}

	inst.Logf("%s Starting", MarkProgress)
	inst.SetLive("https://a.example.com", "http://a.example.com")
	if inst.Uptime(start.Add(time.Minute)) != time.Minute {
		t.Errorf("Uptime() = %s", inst.Uptime(start.Add(time.Minute)))
	}

	snap := inst.Snapshot()
	snap.URLs[0] = "mutated"
	if inst.URLs()[0] != "https://a.example.com" {
		t.Error("snapshot shares URL storage with the instance")
	}

	inst.Fail(errors.New("boom"))
	if inst.Status() != StatusError || inst.Error() != "boom" {
		t.Errorf("after Fail: %s %q", inst.Status(), inst.Error())
	}
	if last := inst.Logs()[len(inst.Logs())-1]; last != MarkFailed+" boom" {
		t.Errorf("last log %q", last)
	}

	inst.reset(start.Add(time.Hour))
	if inst.Status() != StatusStarting || len(inst.URLs()) != 0 || inst.Error() != "" {
		t.Errorf("reset left state behind: %+v", inst.Snapshot())
	}
	if len(inst.Logs()) != 3 {
		t.Errorf("reset must keep the log, got %v", inst.Logs())
	}

	if notified < 4 {
		t.Errorf("expected change notifications, got %d", notified)
	}
}

func TestInstance_SessionOwnership(t *testing.T) {
	inst := NewInstance(Config{ID: "t1"})
	a, b := &fakeSession{}, &fakeSession{}

	inst.SetSession(a)
	if inst.ReleaseSession(b) {
		t.Error("released a session the instance does not own")
	}
	if got := inst.TakeSession(); got != a {
		t.Errorf("TakeSession() = %v", got)
	}
	if inst.TakeSession() != nil {
		t.Error("session handed out twice")
	}
	if inst.ReleaseSession(a) {
		t.Error("released an already taken session")
	}
}

func TestRegistry(t *testing.T) {
	r := DefaultRegistry(Defaults{}, &fakeSpawner{})

	want := []ProviderName{ProviderCloudflared, ProviderNgrok, ProviderNgrokGo, ProviderSSHRelay}
	names := r.Names()
	if len(names) != len(want) {
		t.Fatalf("Names() = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("Names()[%d] = %s, want %s", i, names[i], want[i])
		}
	}

	for _, name := range want {
		p, err := r.Lookup(name)
		if err != nil {
			t.Errorf("Lookup(%s): %v", name, err)
			continue
		}
		if p.Name() != name {
			t.Errorf("provider registered as %s reports %s", name, p.Name())
		}
	}

	_, err := r.Lookup("pagekite")
	if !errors.Is(err, ErrUnknownProvider) {
		t.Fatalf("expected ErrUnknownProvider, got %v", err)
	}
	if !strings.Contains(err.Error(), "cloudflared, ngrok, ngrok-go, sshrelay") {
		t.Errorf("error should list known providers: %v", err)
	}

	infos := r.Infos()
	if len(infos) != 4 {
		t.Fatalf("Infos() returned %d entries", len(infos))
	}
	for _, info := range infos {
		if info.Name == ProviderCloudflared && (!info.RequiresBinary() || info.Binary != "cloudflared") {
			t.Errorf("cloudflared should require its binary: %+v", info)
		}
		if info.Name == ProviderSSHRelay && info.RequiresBinary() {
			t.Errorf("sshrelay needs no binary: %+v", info)
		}
	}
}

func TestStartError(t *testing.T) {
	cause := errors.New("exit status 1")
	var err error = &StartError{Provider: ProviderNgrok, Err: cause}

	if err.Error() != "ngrok: exit status 1" {
		t.Errorf("Error() = %q", err.Error())
	}
	if !errors.Is(err, cause) {
		t.Error("StartError does not unwrap to its cause")
	}
}

var _ process.Spawner = (*fakeSpawner)(nil)
