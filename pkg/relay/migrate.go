package relay

import (
	"path/filepath"

	"github.com/cuemby/mls-relay/pkg/auxstore"
	"github.com/cuemby/mls-relay/pkg/config"
	"github.com/cuemby/mls-relay/pkg/eventstore"
)

// StoreReport summarizes whether each store opened cleanly at its
// configured path.
type StoreReport struct {
	EventStorePath   string
	EventStoreStatus string
	AuxStorePath     string
	AuxStoreStatus   string
}

// OK reports whether both stores opened without error.
func (r StoreReport) OK() bool {
	return r.EventStoreStatus == "ok" && r.AuxStoreStatus == "ok"
}

// CheckStores opens the event store and auxiliary store at cfg's data
// path and immediately closes them again, surfacing any error raised while
// opening a file or creating its buckets, as a pre-flight for operators
// rolling out a new binary against existing data. Opening creates a
// missing database file and any missing buckets, as a normal start does.
func CheckStores(cfg config.Config) (StoreReport, error) {
	report := StoreReport{
		EventStorePath: filepath.Join(cfg.Data.Path, "events.db"),
		AuxStorePath:   filepath.Join(cfg.Data.Path, "auxiliary.db"),
	}

	store, err := eventstore.NewBoltStore(cfg.Data.Path, eventstore.Window{
		MaxOlderThanNow: cfg.Limitation.MaxEventTimeOlderThan,
		MaxNewerThanNow: cfg.Limitation.MaxEventTimeNewerThan,
	})
	if err != nil {
		report.EventStoreStatus = "error: " + err.Error()
	} else {
		report.EventStoreStatus = "ok"
		store.Close()
	}

	aux, err := auxstore.NewBoltStore(cfg.Data.Path)
	if err != nil {
		report.AuxStoreStatus = "error: " + err.Error()
	} else {
		report.AuxStoreStatus = "ok"
		aux.Close()
	}

	return report, nil
}
