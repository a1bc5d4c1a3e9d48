package api_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/veldrane/eidolon/internal/api"
	"github.com/veldrane/eidolon/internal/catalog"
	"github.com/veldrane/eidolon/internal/executor"
	"github.com/veldrane/eidolon/internal/models"
	"github.com/veldrane/eidolon/internal/notices"
	"github.com/veldrane/eidolon/internal/opclient"
	"github.com/veldrane/eidolon/internal/relay"
	"github.com/veldrane/eidolon/internal/store"
	"github.com/veldrane/eidolon/internal/testutil"
)

type env struct {
	db     *store.DB
	hub    *relay.Hub
	exec   *executor.Executor
	server *httptest.Server
}

func newEnv(t *testing.T, reopenMin time.Duration, authEnabled bool, token string) *env {
	t.Helper()
	db := testutil.TestStore(t)
	logger := testutil.TestLogger()

	if err := catalog.NewManager(db, logger, "Catalog").Repair(); err != nil {
		t.Fatal(err)
	}
	broker := notices.NewBroker()
	t.Cleanup(broker.Close)

	hub := relay.NewHub()
	t.Cleanup(hub.Close)

	mirrors := catalog.NewSynchronizer(db, logger, "Catalog")
	exec := executor.New(db, mirrors, broker, logger, "Container")
	hub.Elect(exec)

	client := opclient.New(hub, exec)
	handler := api.NewHandler(client, db, reopenMin)
	router := api.NewRouter(handler, authEnabled, token, broker)

	server := httptest.NewServer(router)
	t.Cleanup(server.Close)

	return &env{db: db, hub: hub, exec: exec, server: server}
}

func (e *env) seedOwnerAndTemplate(t *testing.T) {
	t.Helper()
	if err := e.db.CreateOwner(&models.Owner{ID: "owner-1"}); err != nil {
		t.Fatal(err)
	}
	tmpl := &models.Record{ID: "tpl-1", Name: "Container", Kind: models.KindContainer}
	if err := e.db.CreateRecord(tmpl); err != nil {
		t.Fatal(err)
	}
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatal(err)
	}
	return out
}

func TestRelayOpUnknown(t *testing.T) {
	e := newEnv(t, 0, false, "")
	resp := postJSON(t, e.server.URL+"/ops/explode", api.OpRequest{})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestRelayOpInvalidBody(t *testing.T) {
	e := newEnv(t, 0, false, "")
	resp, err := http.Post(e.server.URL+"/ops/notify", "application/json", bytes.NewReader([]byte("{nope")))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestRelayOpCreateRecord(t *testing.T) {
	e := newEnv(t, 0, false, "")
	if err := e.db.CreateOwner(&models.Owner{ID: "owner-1"}); err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, e.server.URL+"/ops/create-record",
		api.OpRequest{Args: []any{"owner-1", "", "Widget", ""}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	body := decodeBody[api.OpResponse](t, resp)
	id, ok := body.Result.(string)
	if !ok || id == "" {
		t.Fatalf("result = %v", body.Result)
	}
	if _, err := e.db.GetRecord(id); err != nil {
		t.Fatalf("record not persisted: %v", err)
	}
}

func TestRelayOpNoExecutor(t *testing.T) {
	e := newEnv(t, 0, false, "")
	e.hub.Resign(e.exec.ID())

	resp := postJSON(t, e.server.URL+"/ops/notify", api.OpRequest{Args: []any{"hello"}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", resp.StatusCode)
	}
}

func TestRelayOpExhaustedPool(t *testing.T) {
	e := newEnv(t, 0, false, "")
	e.seedOwnerAndTemplate(t)
	if err := e.db.CreateOwner(&models.Owner{ID: "target-1"}); err != nil {
		t.Fatal(err)
	}
	bp := &models.Record{ID: "bp-1", Name: "Widget", Kind: models.KindBlueprint, OwnerID: "owner-1"}
	if err := e.db.CreateRecord(bp); err != nil {
		t.Fatal(err)
	}

	resp := postJSON(t, e.server.URL+"/ops/fabricate",
		api.OpRequest{Args: []any{"owner-1", "target-1", "bp-1", "cont-1", 3}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestRelayOpInvalidCategory(t *testing.T) {
	e := newEnv(t, 0, false, "")
	e.seedOwnerAndTemplate(t)

	resp := postJSON(t, e.server.URL+"/ops/fabricate",
		api.OpRequest{Args: []any{"owner-1", "owner-1", "bp-1", "cont-1", 42}})
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestTriggerEntry(t *testing.T) {
	e := newEnv(t, 0, false, "")
	e.seedOwnerAndTemplate(t)

	resp := postJSON(t, e.server.URL+"/entry/owner-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	view := decodeBody[api.ContainerView](t, resp)
	if view.Container.OwnerID != "owner-1" || view.Container.Kind != models.KindContainer {
		t.Errorf("container = %+v", view.Container)
	}

	// A second entry returns the same container.
	resp = postJSON(t, e.server.URL+"/entry/owner-1", nil)
	again := decodeBody[api.ContainerView](t, resp)
	if again.Container.ID != view.Container.ID {
		t.Errorf("second entry container = %s, want %s", again.Container.ID, view.Container.ID)
	}
}

func TestTriggerEntryUnknownOwner(t *testing.T) {
	e := newEnv(t, 0, false, "")
	resp := postJSON(t, e.server.URL+"/entry/nobody", nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestOpenContainerReopenGuard(t *testing.T) {
	e := newEnv(t, time.Minute, false, "")
	e.seedOwnerAndTemplate(t)

	entry := postJSON(t, e.server.URL+"/entry/owner-1", nil)
	view := decodeBody[api.ContainerView](t, entry)

	resp, err := http.Get(e.server.URL + "/containers/" + view.Container.ID)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first open = %d, want 200", resp.StatusCode)
	}

	resp, err = http.Get(e.server.URL + "/containers/" + view.Container.ID)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second open = %d, want 429", resp.StatusCode)
	}
}

func TestOpenContainerAssignmentNameFallback(t *testing.T) {
	e := newEnv(t, 0, false, "")
	e.seedOwnerAndTemplate(t)

	entry := postJSON(t, e.server.URL+"/entry/owner-1", nil)
	view := decodeBody[api.ContainerView](t, entry)

	bp := &models.Record{
		ID: "bp-new", Name: "Widget", Kind: models.KindBlueprint,
		OwnerID: "owner-1", ContainerID: view.Container.ID,
	}
	if err := e.db.CreateRecord(bp); err != nil {
		t.Fatal(err)
	}
	// An assignment row keyed by the record's previous identifier.
	stale := &models.Assignment{
		ContainerID: view.Container.ID, RecordID: "bp-old",
		RecordName: "Widget", Category: 3,
	}
	if err := e.db.PutAssignment(stale); err != nil {
		t.Fatal(err)
	}

	resp, err := http.Get(e.server.URL + "/containers/" + view.Container.ID)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decodeBody[api.ContainerView](t, resp)
	if len(got.Assignments) != 1 {
		t.Fatalf("assignments = %d, want 1", len(got.Assignments))
	}
	if got.Assignments[0].Category != 3 || got.Assignments[0].RecordName != "Widget" {
		t.Errorf("assignment = %+v", got.Assignments[0])
	}
}

func TestOpenContainerNotFound(t *testing.T) {
	e := newEnv(t, 0, false, "")
	resp, err := http.Get(e.server.URL + "/containers/missing")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCatalog(t *testing.T) {
	e := newEnv(t, 0, false, "")
	e.seedOwnerAndTemplate(t)

	// Put one mirror into Category 5 via the assignment workflow.
	entry := postJSON(t, e.server.URL+"/entry/owner-1", nil)
	view := decodeBody[api.ContainerView](t, entry)
	bp := postJSON(t, e.server.URL+"/ops/create-record",
		api.OpRequest{Args: []any{"owner-1", view.Container.ID, "Widget", ""}})
	bpResp := decodeBody[api.OpResponse](t, bp)
	assign := postJSON(t, e.server.URL+"/ops/assign-category",
		api.OpRequest{Args: []any{view.Container.ID, bpResp.Result, 5}})
	assign.Body.Close()
	if assign.StatusCode != http.StatusOK {
		t.Fatalf("assign = %d, want 200", assign.StatusCode)
	}

	resp, err := http.Get(e.server.URL + "/catalog")
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	cat := decodeBody[api.CatalogResponse](t, resp)
	if cat.Root == nil || cat.Root.Name != "Catalog" {
		t.Fatalf("root = %+v", cat.Root)
	}
	if len(cat.Folders) != 10 {
		t.Fatalf("folders = %d, want 10", len(cat.Folders))
	}
	found := false
	for _, f := range cat.Folders {
		if f.Folder.Name == "Category 5" {
			if len(f.Mirrors) != 1 || f.Mirrors[0].Name != "Widget" {
				t.Errorf("Category 5 mirrors = %+v", f.Mirrors)
			}
			found = true
		}
	}
	if !found {
		t.Error("Category 5 folder missing from catalog")
	}
}

func TestAuth(t *testing.T) {
	e := newEnv(t, 0, true, "secret")

	resp, err := http.Get(e.server.URL + "/catalog")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token: status = %d, want 401", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodGet, e.server.URL+"/catalog", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad token: status = %d, want 401", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodGet, e.server.URL+"/catalog", nil)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("good token: status = %d, want 200", resp.StatusCode)
	}
}
