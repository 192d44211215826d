package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Latermedia/linearbot-sub003/internal/config"
	"github.com/Latermedia/linearbot-sub003/internal/domain"
	syncer "github.com/Latermedia/linearbot-sub003/internal/sync"
	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// trigger is the slice of the orchestrator the control surface consumes.
type trigger interface {
	Trigger(ctx context.Context, full bool) error
}

// store is the read/admin slice of the repository the handlers consume.
type store interface {
	LoadSyncState(ctx context.Context) (domain.SyncState, error)
	Reset(ctx context.Context) error
	LatestSnapshot(ctx context.Context, level domain.SnapshotLevel, levelKey string) (*domain.MetricsSnapshot, error)
	NearestSnapshot(ctx context.Context, level domain.SnapshotLevel, levelKey string, target time.Time) (*domain.MetricsSnapshot, error)

	ListProjects(ctx context.Context) ([]domain.Project, error)
	GetProject(ctx context.Context, id string) (domain.Project, error)
	ListIssues(ctx context.Context) ([]domain.Issue, error)
	ListIssuesByProject(ctx context.Context, projectID string) ([]domain.Issue, error)
	ListIssuesByStateTypes(ctx context.Context, types []string) ([]domain.Issue, error)
	ListTeamKeys(ctx context.Context) ([]string, error)
	ListEngineers(ctx context.Context) ([]domain.Engineer, error)
	ListInitiatives(ctx context.Context) ([]domain.Initiative, error)
}

type Handlers struct {
	base context.Context
	cfg  config.Config
	log  zerolog.Logger
	sync trigger
	repo store
}

// NewHandlers takes the process lifecycle context; triggered syncs run under
// it so shutdown can cancel them between sub-units.
func NewHandlers(base context.Context, cfg config.Config, log zerolog.Logger, sync trigger, repo store) *Handlers {
	return &Handlers{base: base, cfg: cfg, log: log, sync: sync, repo: repo}
}

func (h *Handlers) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// TriggerSync starts a sync detached from the HTTP request so client
// disconnects cannot cancel it; only process shutdown can, via the lifecycle
// context. A running sync yields 409, never a queue.
func (h *Handlers) TriggerSync(c *gin.Context) {
	var body struct {
		Full bool `json:"full"`
	}
	_ = c.ShouldBindJSON(&body)
	if err := h.sync.Trigger(h.base, body.Full); err != nil {
		if errors.Is(err, syncer.ErrSyncInProgress) {
			c.JSON(http.StatusConflict, gin.H{"error": "sync already in progress"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "queued", "full": body.Full})
}

// SyncStatus exposes the status surface: even in an error state the message
// and the last successful sync time are visible, so staleness is observable.
func (h *Handlers) SyncStatus(c *gin.Context) {
	st, err := h.repo.LoadSyncState(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           st.Status,
		"phase":            st.Phase,
		"last_sync_at":     st.LastSyncAt,
		"progress_percent": st.ProgressPercent,
		"error":            st.ErrorMessage,
		"query_counts":     st.QueryCounts,
	})
}

// Trends returns the latest snapshot for a scope next to the stored row
// nearest the requested lookback, labeled with the actual day span covered so
// partial data is reported honestly.
func (h *Handlers) Trends(c *gin.Context) {
	level := domain.SnapshotLevel(c.DefaultQuery("level", string(domain.LevelOrg)))
	key := c.Query("key")
	daysBack := 7
	if d := c.Query("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "bad days parameter"})
			return
		}
		daysBack = n
	}
	ctx := c.Request.Context()
	latest, err := h.repo.LatestSnapshot(ctx, level, key)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no snapshots for scope"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	target := time.Now().AddDate(0, 0, -daysBack)
	past, err := h.repo.NearestSnapshot(ctx, level, key, target)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	span := latest.CapturedAt.Sub(past.CapturedAt).Hours() / 24.0
	c.JSON(http.StatusOK, gin.H{
		"level":            level,
		"key":              key,
		"requested_days":   daysBack,
		"actual_span_days": span,
		"current":          latest,
		"previous":         past,
	})
}

// Projects lists every stored project with its computed aggregates.
func (h *Handlers) Projects(c *gin.Context) {
	projects, err := h.repo.ListProjects(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"projects": projects, "count": len(projects)})
}

// ProjectDetail returns one project next to its current issue set.
func (h *Handlers) ProjectDetail(c *gin.Context) {
	id := c.Param("id")
	ctx := c.Request.Context()
	p, err := h.repo.GetProject(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown project"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	issues, err := h.repo.ListIssuesByProject(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"project": p, "issues": issues})
}

// Issues lists stored issues, optionally narrowed to workflow-state types via
// ?states=started,completed.
func (h *Handlers) Issues(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		issues []domain.Issue
		err    error
	)
	if states := c.Query("states"); states != "" {
		issues, err = h.repo.ListIssuesByStateTypes(ctx, strings.Split(states, ","))
	} else {
		issues, err = h.repo.ListIssues(ctx)
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"issues": issues, "count": len(issues)})
}

// Teams lists the distinct team keys present in the store.
func (h *Handlers) Teams(c *gin.Context) {
	keys, err := h.repo.ListTeamKeys(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"teams": keys})
}

// Engineers lists the per-engineer WIP rows from the last metrics pass.
func (h *Handlers) Engineers(c *gin.Context) {
	engineers, err := h.repo.ListEngineers(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"engineers": engineers, "count": len(engineers)})
}

// Initiatives lists stored initiatives with their member project IDs.
func (h *Handlers) Initiatives(c *gin.Context) {
	initiatives, err := h.repo.ListInitiatives(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"initiatives": initiatives, "count": len(initiatives)})
}

// ResetStore drops and rebuilds every table. Destructive and explicit-only.
func (h *Handlers) ResetStore(c *gin.Context) {
	if err := h.repo.Reset(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	h.log.Warn().Str("ip", c.ClientIP()).Msg("store reset via admin endpoint")
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}
