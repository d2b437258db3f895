package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/forgecrew/wrangler/internal/config"
	"github.com/forgecrew/wrangler/internal/event"
	"github.com/forgecrew/wrangler/internal/logging"
	"github.com/forgecrew/wrangler/internal/reservation"
	"github.com/forgecrew/wrangler/internal/resolution"
	"github.com/forgecrew/wrangler/internal/store"
	"github.com/forgecrew/wrangler/internal/taskctx"
	"github.com/forgecrew/wrangler/internal/unit"
)

// runtime bundles the wired scheduler components a command operates on.
type runtime struct {
	cfg      *config.Config
	log      *logging.Logger
	bus      *event.Bus
	store    *store.MemStore
	manager  *reservation.Manager
	resolver *resolution.Engine
}

// newRuntime loads configuration and wires the scheduler components.
func newRuntime() (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	log, err := logging.NewLogger(cfg.Paths.RunDir, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	bus := event.NewBus()
	st := store.NewMemStore()
	predictor := taskctx.NewKeywordExtractor()

	resolver := resolution.NewEngine(predictor, log, bus)
	resolver.SetSimilarityThreshold(cfg.Resolution.SimilarityThreshold)
	resolver.SetAllowPreemption(cfg.Resolution.AllowPreemption)

	return &runtime{
		cfg:      cfg,
		log:      log,
		bus:      bus,
		store:    st,
		manager:  reservation.NewManager(predictor, st, log, bus),
		resolver: resolver,
	}, nil
}

func (r *runtime) close() {
	_ = r.log.Close()
}

// planFile is the on-disk batch format accepted by plan validate, run, and
// monitor. Complexity and priority tiers are written as strings.
type planFile struct {
	Repo  string     `json:"repo"`
	Units []planUnit `json:"units"`
}

type planUnit struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Type        string     `json:"type"`
	Complexity  string     `json:"complexity"`
	Priority    string     `json:"priority"`
	Files       []string   `json:"files,omitempty"`
	DependsOn   []string   `json:"depends_on,omitempty"`
	Blocks      []string   `json:"blocks,omitempty"`
	AgentType   string     `json:"agent_type"`
	Deadline    *time.Time `json:"deadline,omitempty"`
}

// loadPlanFile reads and converts a batch file into units of work.
func loadPlanFile(path string) (string, []*unit.UnitOfWork, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read plan file: %w", err)
	}

	var pf planFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return "", nil, fmt.Errorf("failed to parse plan file: %w", err)
	}
	if len(pf.Units) == 0 {
		return "", nil, fmt.Errorf("plan file %s contains no units", path)
	}

	units := make([]*unit.UnitOfWork, 0, len(pf.Units))
	for _, pu := range pf.Units {
		if pu.ID == "" {
			return "", nil, fmt.Errorf("plan file %s: unit with empty id", path)
		}
		u := &unit.UnitOfWork{
			ID:          pu.ID,
			Title:       pu.Title,
			Description: pu.Description,
			Type:        pu.Type,
			Complexity:  unit.ParseComplexity(pu.Complexity),
			Priority:    unit.ParsePriority(pu.Priority),
			Files:       pu.Files,
			DependsOn:   pu.DependsOn,
			Blocks:      pu.Blocks,
			AgentType:   pu.AgentType,
			Status:      unit.StatusPending,
			Deadline:    pu.Deadline,
			CreatedAt:   time.Now(),
			UpdatedAt:   time.Now(),
		}
		units = append(units, u)
	}
	return pf.Repo, units, nil
}
