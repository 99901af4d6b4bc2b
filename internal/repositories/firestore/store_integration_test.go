//go:build integration

package firestore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"testing"
	"time"

	domain "github.com/productshop/api/internal/domain"
	pconfig "github.com/productshop/api/internal/platform/config"
	pfirestore "github.com/productshop/api/internal/platform/firestore"
	"github.com/productshop/api/internal/repositories"
)

const firestoreEmulatorImage = "gcr.io/google.com/cloudsdktool/cloud-sdk:emulators"

func TestStoreIntegration(t *testing.T) {
	if _, err := exec.LookPath("docker"); err != nil {
		t.Skip("docker not available: " + err.Error())
	}
	ensureDockerDaemon(t)

	port := freePort(t)
	endpoint := fmt.Sprintf("127.0.0.1:%d", port)
	containerID := startFirestoreEmulator(t, port)
	t.Cleanup(func() { stopContainer(containerID) })
	waitForEndpoint(t, endpoint, 30*time.Second)

	provider := pfirestore.NewProvider(pconfig.FirestoreConfig{ProjectID: "orders-test", EmulatorHost: endpoint})
	store, err := NewStore(provider)
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close(context.Background()) })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := provider.Client(ctx)
	if err != nil {
		t.Fatalf("provider client: %v", err)
	}
	if _, err := client.Collection(productsCollection).Doc("prod_a").Set(ctx, productDocument{Title: "Mug", Price: 10000, Stock: 2, OptionIDs: []string{"opt_a1"}}); err != nil {
		t.Fatalf("seed product: %v", err)
	}
	if _, err := client.Collection(optionsCollection).Doc("opt_a1").Set(ctx, optionDocument{ProductID: "prod_a", Name: "Large", Price: 500, Stock: 1}); err != nil {
		t.Fatalf("seed option: %v", err)
	}

	keyA := domain.StockKey{ProductID: "prod_a"}
	keyOpt := domain.StockKey{ProductID: "prod_a", OptionID: "opt_a1"}
	now := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	order := domain.Order{
		ID: "ord_1", MemberID: "mem_1", Status: domain.OrderStatusPaying, CreatedAt: now, UpdatedAt: now, StatusChangedAt: now,
		Lines: []domain.OrderLine{{ID: "line_1", ProductID: "prod_a", OptionID: "opt_a1", Quantity: 1, UnitPrice: 10500, LineTotal: 10500}},
	}

	err = store.RunInTx(ctx, func(ctx context.Context) error {
		if err := store.Orders().Insert(ctx, order); err != nil {
			return err
		}
		values, err := store.Inventory().LockStock(ctx, []domain.StockKey{keyA, keyOpt, {ProductID: "prod_b", OptionID: "opt_a1"}})
		if err != nil {
			return err
		}
		if len(values) != 2 || values[keyOpt] != 1 || values[keyA] != 2 {
			return fmt.Errorf("unexpected locked values %v", values)
		}
		if err := store.Inventory().SetStock(ctx, keyOpt, 0); err != nil {
			return err
		}
		staged, err := store.Orders().FindByID(ctx, order.ID)
		if err != nil {
			return err
		}
		staged.Status = domain.OrderStatusPaymentCompleted
		staged.Paid = true
		return store.Orders().Update(ctx, staged)
	})
	if err != nil {
		t.Fatalf("run in tx: %v", err)
	}

	loaded, err := store.Orders().FindByID(ctx, order.ID)
	if err != nil {
		t.Fatalf("find order: %v", err)
	}
	if loaded.Status != domain.OrderStatusPaymentCompleted || len(loaded.Lines) != 1 {
		t.Fatalf("unexpected order %+v", loaded)
	}
	option, err := store.Catalog().FindOption(ctx, "opt_a1")
	if err != nil {
		t.Fatalf("find option: %v", err)
	}
	if option.Stock != 0 {
		t.Fatalf("expected option stock 0, got %d", option.Stock)
	}

	err = store.Orders().Insert(ctx, order)
	var repoErr repositories.RepositoryError
	if err == nil || !errors.As(err, &repoErr) || !repoErr.IsConflict() {
		t.Fatalf("expected conflict on duplicate insert, got %v", err)
	}

	if _, err := store.Catalog().FindProduct(ctx, "prod_missing"); !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	page, err := store.Orders().ListByMember(ctx, repositories.OrderListFilter{MemberID: "mem_1"})
	if err != nil {
		t.Fatalf("list orders: %v", err)
	}
	if len(page.Items) != 1 || page.NextPageToken != "" {
		t.Fatalf("unexpected page %+v", page)
	}
}

func freePort(t *testing.T) int {
	t.Helper()
	addr, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to allocate port: %v", err)
	}
	defer addr.Close()
	return addr.Addr().(*net.TCPAddr).Port
}

func startFirestoreEmulator(t *testing.T, port int) string {
	t.Helper()
	cmd := exec.Command("docker", "run", "-d", "--rm",
		"-p", fmt.Sprintf("%d:8080", port),
		firestoreEmulatorImage,
		"gcloud", "beta", "emulators", "firestore", "start",
		"--host-port=0.0.0.0:8080", "--quiet",
	)
	out, err := cmd.CombinedOutput()
	if err != nil {
		t.Fatalf("failed to start firestore emulator: %v - %s", err, string(out))
	}
	id := strings.TrimSpace(string(out))
	if len(id) > 12 {
		id = id[:12]
	}
	return id
}

func ensureDockerDaemon(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := exec.CommandContext(ctx, "docker", "info").Run(); err != nil {
		t.Skip("docker daemon unavailable: " + err.Error())
	}
}

func stopContainer(id string) {
	if id == "" {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, "docker", "stop", id).Run()
}

func waitForEndpoint(t *testing.T, endpoint string, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", endpoint, 500*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(200 * time.Millisecond)
	}
	t.Fatalf("firestore emulator at %s did not become ready within %s", endpoint, timeout)
}
