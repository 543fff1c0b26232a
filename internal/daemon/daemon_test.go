package daemon

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDaemon_StartStopIntegration(t *testing.T) {
	tmpDir := t.TempDir()

	socketPath := filepath.Join(tmpDir, "fprobe.sock")
	pidFile := filepath.Join(tmpDir, "fprobe.pid")
	pcapPath := filepath.Join(tmpDir, "empty.pcap")
	writeEmptyPcap(t, pcapPath)

	configPath := filepath.Join(tmpDir, "config.yml")
	configContent := `
fprobe:
  node:
    hostname: test-daemon-001
  control:
    socket: ` + socketPath + `
    pid_file: ` + pidFile + `
  pipeline:
    source: {type: "file", path: "` + pcapPath + `"}
  log:
    level: debug
    format: json
  metrics:
    enabled: true
    listen: 127.0.0.1:19091
    path: /metrics
`
	if err := os.WriteFile(configPath, []byte(configContent), 0644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	d, err := New(configPath)
	if err != nil {
		t.Fatalf("failed to create daemon: %v", err)
	}

	if err := d.Start(); err != nil {
		t.Fatalf("failed to start daemon: %v", err)
	}

	if _, err := os.Stat(pidFile); os.IsNotExist(err) {
		t.Errorf("PID file was not created: %s", pidFile)
	}

	time.Sleep(100 * time.Millisecond)
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		t.Errorf("control socket was not created: %s", socketPath)
	}

	runDone := make(chan error, 1)
	go func() {
		runDone <- d.Run()
	}()

	time.Sleep(100 * time.Millisecond)
	d.TriggerShutdown()

	select {
	case err := <-runDone:
		if err != nil {
			t.Errorf("daemon.Run() returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop within timeout")
	}

	if _, err := os.Stat(pidFile); !os.IsNotExist(err) {
		t.Errorf("PID file was not removed after shutdown: %s", pidFile)
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Errorf("control socket was not removed after shutdown: %s", socketPath)
	}
}

// writeEmptyPcap writes a minimal valid pcap file (global header only, no
// packets) so flowsource.FileSource.Start can open it successfully.
func writeEmptyPcap(t *testing.T, path string) {
	t.Helper()
	header := []byte{
		0xd4, 0xc3, 0xb2, 0xa1, // magic (little-endian)
		0x02, 0x00, 0x04, 0x00, // version major/minor
		0x00, 0x00, 0x00, 0x00, // thiszone
		0x00, 0x00, 0x00, 0x00, // sigfigs
		0xff, 0xff, 0x00, 0x00, // snaplen
		0x01, 0x00, 0x00, 0x00, // network (LINKTYPE_ETHERNET)
	}
	if err := os.WriteFile(path, header, 0644); err != nil {
		t.Fatalf("failed to write empty pcap: %v", err)
	}
}
