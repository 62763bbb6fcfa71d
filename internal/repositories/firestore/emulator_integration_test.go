//go:build integration

package firestore

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/googleapis/gax-go/v2"

	pconfig "github.com/vinylogix/api/internal/platform/config"
	pfirestore "github.com/vinylogix/api/internal/platform/firestore"
)

const emulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

var (
	// emulatorEndpoint is shared by every test in the package; an empty value skips them.
	emulatorEndpoint string
	emulatorSkip     string
	projectSeq       atomic.Int64
)

// TestMain reuses FIRESTORE_EMULATOR_HOST when set and otherwise starts one emulator container
// for the whole package.
func TestMain(m *testing.M) {
	if host := strings.TrimSpace(os.Getenv("FIRESTORE_EMULATOR_HOST")); host != "" {
		emulatorEndpoint = host
		os.Exit(m.Run())
	}

	containerID, endpoint, err := startEmulator()
	if err != nil {
		emulatorSkip = err.Error()
		os.Exit(m.Run())
	}
	emulatorEndpoint = endpoint
	code := m.Run()
	stopContainer(containerID)
	os.Exit(code)
}

// newEmulatorProvider returns a provider on a project no other test uses, so data never leaks
// between tests sharing the emulator.
func newEmulatorProvider(t *testing.T, projectID string) *pfirestore.Provider {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test skipped in short mode")
	}
	if emulatorEndpoint == "" {
		t.Skip("firestore emulator unavailable: " + emulatorSkip)
	}
	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{
		ProjectID:    fmt.Sprintf("%s-%d", projectID, projectSeq.Add(1)),
		EmulatorHost: emulatorEndpoint,
	})
	t.Cleanup(func() {
		_ = provider.Close(context.Background())
	})
	return provider
}

func seedItem(t *testing.T, ctx context.Context, provider *pfirestore.Provider, tenantID, itemID string, shelf, storage int) {
	t.Helper()
	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}
	doc := itemDocument{
		TenantID:         tenantID,
		ItemID:           itemID,
		ShelfQuantity:    shelf,
		StorageQuantity:  storage,
		ShelfLocations:   []string{},
		StorageLocations: []string{},
		IsSellable:       true,
		UpdatedAt:        time.Now().UTC(),
	}
	if _, err := client.Collection(itemsCollection).Doc(itemDocumentID(tenantID, itemID)).Set(ctx, doc); err != nil {
		t.Fatalf("seed item %s: %v", itemID, err)
	}
}

func countDocuments(t *testing.T, ctx context.Context, provider *pfirestore.Provider, collection string, build func(firestore.Query) firestore.Query) int {
	t.Helper()
	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}
	q := client.Collection(collection).Query
	if build != nil {
		q = build(q)
	}
	snaps, err := q.Documents(ctx).GetAll()
	if err != nil {
		t.Fatalf("count %s: %v", collection, err)
	}
	return len(snaps)
}

func startEmulator() (containerID, endpoint string, err error) {
	if _, err := exec.LookPath("docker"); err != nil {
		return "", "", fmt.Errorf("docker not available: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		return "", "", fmt.Errorf("docker daemon unavailable: %w", err)
	}

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", "", err
	}
	port := l.Addr().(*net.TCPAddr).Port
	_ = l.Close()

	out, err := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		emulatorImage,
		"gcloud", "emulators", "firestore", "start", "--host-port=0.0.0.0:8080", "--quiet",
	).CombinedOutput()
	if err != nil {
		return "", "", fmt.Errorf("start emulator: %v: %s", err, out)
	}
	containerID = strings.TrimSpace(string(out))
	endpoint = fmt.Sprintf("127.0.0.1:%d", port)
	if err := waitForEndpoint(endpoint, 45*time.Second); err != nil {
		stopContainer(containerID)
		return "", "", err
	}
	return containerID, endpoint, nil
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(endpoint string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	backoff := gax.Backoff{Initial: 100 * time.Millisecond, Max: 2 * time.Second}
	for {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if err := gax.Sleep(ctx, backoff.Pause()); err != nil {
			return fmt.Errorf("firestore emulator at %s not ready after %s", endpoint, timeout)
		}
	}
}
