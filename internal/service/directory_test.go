package service

import (
	"testing"

	"github.com/ioi-network/kernel/internal/executor"
	"github.com/ioi-network/kernel/internal/ktypes"
)

// fakeViewer is a no-op executor.Viewer stand-in.
type fakeViewer struct{ store map[string][]byte }

func newFakeViewer() *fakeViewer { return &fakeViewer{store: make(map[string][]byte)} }

func (v *fakeViewer) Get(key []byte) ([]byte, bool, error) {
	b, ok := v.store[string(key)]
	return b, ok, nil
}
func (v *fakeViewer) Put(key, value []byte) { v.store[string(key)] = value }
func (v *fakeViewer) Delete(key []byte)     { delete(v.store, string(key)) }

type fakeService struct {
	id     string
	abi    uint32
	caps   Capability
	called bool
}

func (f *fakeService) ID() string                 { return f.id }
func (f *fakeService) ABIVersion() uint32          { return f.abi }
func (f *fakeService) StateSchema() string         { return "v1" }
func (f *fakeService) Capabilities() Capability    { return f.caps }
func (f *fakeService) HandleCall(view executor.Viewer, accountID ktypes.AccountID, payload []byte) ([]byte, uint64, error) {
	f.called = true
	return []byte("ok"), 42, nil
}

type decoratorService struct{ fakeService }

func (d *decoratorService) Validate(view executor.Viewer, tx ktypes.Transaction) error { return nil }
func (d *decoratorService) Mutate(view executor.Viewer, tx ktypes.Transaction) error   { return nil }

type eobService struct {
	fakeService
	ran bool
}

func (e *eobService) EndOfBlock(view executor.Viewer, h ktypes.Height) error {
	e.ran = true
	return nil
}

type upgradableService struct {
	fakeService
	prepared, completed bool
}

func (u *upgradableService) PrepareMigration(view executor.Viewer, fromVersion uint32) error {
	u.prepared = true
	return nil
}
func (u *upgradableService) CompleteMigration(view executor.Viewer) error {
	u.completed = true
	return nil
}

func TestDirectoryRegisterLookupCanonicalOrder(t *testing.T) {
	d := NewDirectory()
	d.Register(&fakeService{id: "zeta"})
	d.Register(&fakeService{id: "alpha"})
	d.Register(&fakeService{id: "mid"})

	ids := d.IDs()
	want := []string{"alpha", "mid", "zeta"}
	for i, id := range want {
		if ids[i] != id {
			t.Fatalf("expected canonical order %v, got %v", want, ids)
		}
	}

	if _, ok := d.Lookup("alpha"); !ok {
		t.Fatal("expected alpha to be registered")
	}
	if _, ok := d.Lookup("missing"); ok {
		t.Fatal("expected missing service to be absent")
	}
}

func TestDirectoryDecoratorsFiltersByCapability(t *testing.T) {
	d := NewDirectory()
	d.Register(&fakeService{id: "plain", caps: 0})
	dec := &decoratorService{fakeService: fakeService{id: "withdec", caps: CapDecorator}}
	d.Register(dec)

	decorators := d.Decorators()
	if len(decorators) != 1 || decorators[0].ID() != "withdec" {
		t.Fatalf("expected exactly one decorator (withdec), got %+v", decorators)
	}
}

func TestDirectoryEndOfBlockHooksFiltersByCapability(t *testing.T) {
	d := NewDirectory()
	eob := &eobService{fakeService: fakeService{id: "hook", caps: CapEndOfBlock}}
	d.Register(eob)
	d.Register(&fakeService{id: "nohook"})

	hooks := d.EndOfBlockHooks()
	if len(hooks) != 1 || hooks[0].ID() != "hook" {
		t.Fatalf("expected exactly one end-of-block hook, got %+v", hooks)
	}
	if err := hooks[0].EndOfBlock(newFakeViewer(), 1); err != nil {
		t.Fatal(err)
	}
	if !eob.ran {
		t.Fatal("expected the wrapped hook to have run")
	}
}

func TestDirectoryCallRoutesByEncodedServiceID(t *testing.T) {
	d := NewDirectory()
	svc := &fakeService{id: "settlement2"}
	d.Register(svc)

	payload := EncodeCallPayload("settlement2", []byte("payload-body"))
	proof, gas, err := d.Call(newFakeViewer(), ktypes.AccountID{}, payload)
	if err != nil {
		t.Fatal(err)
	}
	if !svc.called {
		t.Fatal("expected Call to route to the registered service")
	}
	if string(proof) != "ok" || gas != 42 {
		t.Fatalf("unexpected result: proof=%q gas=%d", proof, gas)
	}

	if _, _, err := d.Call(newFakeViewer(), ktypes.AccountID{}, EncodeCallPayload("nosuch", nil)); err == nil {
		t.Fatal("expected an error routing to an unregistered service")
	}
}

func TestUpgradesScheduleAndRun(t *testing.T) {
	d := NewDirectory()
	oldSvc := &upgradableService{fakeService: fakeService{id: "svc", abi: 1, caps: CapUpgradable}}
	d.Register(oldSvc)

	newSvc := &upgradableService{fakeService: fakeService{id: "svc", abi: 2, caps: CapUpgradable}}
	upgrades := NewUpgrades(d)
	if err := upgrades.Schedule(newSvc, 10); err != nil {
		t.Fatal(err)
	}

	view := newFakeViewer()
	activated, err := upgrades.RunUpgrades(view, 5)
	if err != nil {
		t.Fatal(err)
	}
	if activated {
		t.Fatal("expected no activation before the scheduled height")
	}
	if got, _ := d.Lookup("svc"); got.ABIVersion() != 1 {
		t.Fatal("expected the old version to still be registered before the scheduled height")
	}

	activated, err = upgrades.RunUpgrades(view, 10)
	if err != nil {
		t.Fatal(err)
	}
	if !activated {
		t.Fatal("expected activation at the scheduled height")
	}
	if !oldSvc.prepared {
		t.Fatal("expected the outgoing version's PrepareMigration to run")
	}
	if !newSvc.completed {
		t.Fatal("expected the incoming version's CompleteMigration to run")
	}
	if got, _ := d.Lookup("svc"); got.ABIVersion() != 2 {
		t.Fatal("expected the new version to be registered after the upgrade")
	}

	// Re-running at the same height again must not re-fire (already
	// dequeued from pending).
	activated, err = upgrades.RunUpgrades(view, 10)
	if err != nil {
		t.Fatal(err)
	}
	if activated {
		t.Fatal("expected no further activation once the upgrade has already run")
	}
}

func TestScheduleRejectsNonUpgradableTarget(t *testing.T) {
	d := NewDirectory()
	d.Register(&fakeService{id: "plain", caps: 0})
	upgrades := NewUpgrades(d)

	err := upgrades.Schedule(&fakeService{id: "plain"}, 1)
	if err == nil {
		t.Fatal("expected Schedule to reject a target whose current registration is not upgradable")
	}
}
