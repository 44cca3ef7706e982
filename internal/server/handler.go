// Package server exposes the audit ledger over HTTP. Every route sits behind
// the auth middleware and the access policy engine; there is no unguarded
// path to the ledger or the projection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/clinchain/clinledger/internal/compliance"
	"github.com/clinchain/clinledger/internal/conflict"
	"github.com/clinchain/clinledger/internal/ledger"
	"github.com/clinchain/clinledger/internal/policy"
	"github.com/clinchain/clinledger/internal/projection"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// defaultScanTimeout bounds long-running read-only scans (batch verify,
// compliance reports) so they cannot pin a connection indefinitely.
const defaultScanTimeout = 2 * time.Minute

// Handler wires the ledger, projector, policy engine, resolver, and reporter
// into the HTTP API.
type Handler struct {
	store       ledger.Store
	projector   *projection.Projector
	engine      *policy.Engine
	resolver    *conflict.Resolver
	conflicts   conflict.Store
	reporter    *compliance.Reporter
	seclog      policy.SecurityLog
	logger      *zap.Logger
	scanTimeout time.Duration
}

// New creates a Handler.
func New(store ledger.Store, projector *projection.Projector, engine *policy.Engine,
	resolver *conflict.Resolver, conflicts conflict.Store, reporter *compliance.Reporter,
	seclog policy.SecurityLog, logger *zap.Logger) *Handler {
	return &Handler{
		store:       store,
		projector:   projector,
		engine:      engine,
		resolver:    resolver,
		conflicts:   conflicts,
		reporter:    reporter,
		seclog:      seclog,
		logger:      logger,
		scanTimeout: defaultScanTimeout,
	}
}

// Register mounts all routes on the given router group. The group is expected
// to carry AuthMiddleware already.
func (h *Handler) Register(rg *gin.RouterGroup) {
	events := rg.Group("/events")
	{
		events.POST("", h.Submit)
		events.GET("/:event_uuid/state", h.CurrentState)
		events.GET("/:event_uuid/chain", h.Chain)
		events.GET("/:event_uuid/verify", h.VerifyChain)
		events.GET("/:event_uuid/completeness", h.Completeness)
	}
	entries := rg.Group("/entries")
	{
		entries.GET("/:audit_id", h.GetEntry)
		entries.GET("/:audit_id/verify", h.VerifyEntry)
		entries.GET("/:audit_id/alcoa", h.ValidateALCOA)
	}
	l := rg.Group("/ledger")
	{
		l.GET("", h.Overview)
		l.GET("/gaps", h.Gaps)
		l.GET("/verify", h.VerifyBatch)
	}
	conflicts := rg.Group("/conflicts")
	{
		conflicts.GET("", h.ListConflicts)
		conflicts.GET("/:conflict_id", h.GetConflict)
		conflicts.POST("/:conflict_id/resolve/auto", h.ResolveAuto)
		conflicts.POST("/:conflict_id/resolve", h.ResolveManual)
	}
	rg.GET("/reports/compliance", h.ComplianceReport)
	rg.GET("/security-events", h.SecurityEvents)
}

// SubmitRequest is the payload accepted by POST /events. Actor identity
// (created_by, role) comes from the bearer token, never from the body.
type SubmitRequest struct {
	EventUUID         uuid.UUID       `json:"event_uuid" binding:"required"`
	PatientID         string          `json:"patient_id" binding:"required"`
	SiteID            string          `json:"site_id" binding:"required"`
	Operation         string          `json:"operation" binding:"required"`
	Data              json.RawMessage `json:"data" binding:"required"`
	ClientTimestamp   time.Time       `json:"client_timestamp" binding:"required"`
	ChangeReason      string          `json:"change_reason" binding:"required"`
	DeviceInfo        string          `json:"device_info" binding:"required"`
	SessionID         string          `json:"session_id" binding:"required"`
	ClaimedParentHash string          `json:"claimed_parent_hash"`
}

// Submit handles POST /events — append one candidate entry.
func (h *Handler) Submit(c *gin.Context) {
	ctx := c.Request.Context()
	actor, ok := currentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no actor"})
		return
	}

	var req SubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if d := h.engine.CanAccess(ctx, actor, req.PatientID, req.SiteID, policy.ActionWrite); !d.Allowed {
		accessDeniedTotal.Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied", "reason": d.Reason})
		return
	}

	cand := &ledger.Candidate{
		EventUUID:         req.EventUUID,
		PatientID:         req.PatientID,
		SiteID:            req.SiteID,
		Operation:         ledger.Operation(req.Operation),
		Data:              req.Data,
		CreatedBy:         actor.ID,
		Role:              string(actor.Role),
		ClientTimestamp:   req.ClientTimestamp,
		ChangeReason:      req.ChangeReason,
		DeviceInfo:        req.DeviceInfo,
		IPAddress:         c.ClientIP(),
		SessionID:         req.SessionID,
		ClaimedParentHash: req.ClaimedParentHash,
	}

	res, err := h.store.Append(ctx, cand)
	if err != nil {
		var verr *ledger.ValidationError
		var cerr *ledger.ConflictError
		switch {
		case errors.As(err, &verr):
			ledgerAppendsTotal.WithLabelValues("rejected").Inc()
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"error":   "validation failed",
				"missing": verr.Missing,
			})
		case errors.As(err, &cerr):
			ledgerAppendsTotal.WithLabelValues("conflict").Inc()
			rec, rerr := h.resolver.ReportRejected(ctx, cand, cerr)
			if rerr != nil {
				h.logger.Error("record conflict", zap.Error(rerr))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record conflict"})
				return
			}
			c.JSON(http.StatusConflict, gin.H{
				"error":             "conflict detected",
				"conflict_id":       rec.ConflictID,
				"committed_head":    cerr.HeadAuditID,
				"current_head_hash": cerr.HeadHash,
			})
		default:
			h.logger.Error("append failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "append failed"})
		}
		return
	}

	if res.Duplicate {
		ledgerAppendsTotal.WithLabelValues("duplicate").Inc()
		c.JSON(http.StatusOK, gin.H{
			"audit_id":       res.Entry.AuditID,
			"signature_hash": res.Entry.SignatureHash,
			"duplicate":      true,
		})
		return
	}

	if _, err := h.projector.ApplyEntry(ctx, res.Entry); err != nil {
		// The entry is committed; the projection will self-heal by rebuild
		// on the next read or append.
		h.logger.Error("projection update failed", zap.Int64("audit_id", res.Entry.AuditID), zap.Error(err))
	}

	ledgerAppendsTotal.WithLabelValues("committed").Inc()
	c.JSON(http.StatusCreated, gin.H{
		"audit_id":       res.Entry.AuditID,
		"signature_hash": res.Entry.SignatureHash,
	})
}

// authorizeEvent loads the chain head for event-scoped reads and checks the
// actor against the event's patient and site.
func (h *Handler) authorizeEvent(c *gin.Context, action policy.Action) (uuid.UUID, bool) {
	actor, ok := currentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no actor"})
		return uuid.Nil, false
	}

	eventUUID, err := uuid.Parse(c.Param("event_uuid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_uuid must be a UUID"})
		return uuid.Nil, false
	}

	head, err := h.store.Head(c.Request.Context(), eventUUID)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return uuid.Nil, false
	}
	if err != nil {
		h.logger.Error("resolve event head", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to resolve event"})
		return uuid.Nil, false
	}

	if d := h.engine.CanAccess(c.Request.Context(), actor, head.PatientID, head.SiteID, action); !d.Allowed {
		accessDeniedTotal.Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied", "reason": d.Reason})
		return uuid.Nil, false
	}
	return eventUUID, true
}

// CurrentState handles GET /events/:event_uuid/state.
func (h *Handler) CurrentState(c *gin.Context) {
	eventUUID, ok := h.authorizeEvent(c, policy.ActionRead)
	if !ok {
		return
	}

	state, err := h.projector.Current(c.Request.Context(), eventUUID)
	if errors.Is(err, projection.ErrNotFound) {
		// The chain exists but was never projected (e.g. restored backup);
		// rebuild on demand.
		state, err = h.projector.Rebuild(c.Request.Context(), eventUUID)
	}
	if err != nil {
		h.logger.Error("read projection", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read state"})
		return
	}
	c.JSON(http.StatusOK, state)
}

// Chain handles GET /events/:event_uuid/chain.
func (h *Handler) Chain(c *gin.Context) {
	eventUUID, ok := h.authorizeEvent(c, policy.ActionRead)
	if !ok {
		return
	}

	chain, err := h.store.GetChain(c.Request.Context(), eventUUID)
	if err != nil {
		h.logger.Error("read chain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read chain"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"event_uuid": eventUUID, "entries": chain})
}

// VerifyChain handles GET /events/:event_uuid/verify.
func (h *Handler) VerifyChain(c *gin.Context) {
	eventUUID, ok := h.authorizeEvent(c, policy.ActionRead)
	if !ok {
		return
	}

	results, err := ledger.VerifyChain(c.Request.Context(), h.store, eventUUID)
	if err != nil {
		h.logger.Error("verify chain", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}

	valid := true
	for _, r := range results {
		if !r.Valid {
			valid = false
			verifyFailuresTotal.Inc()
			h.logger.Error("tamper detected in chain",
				zap.String("event_uuid", eventUUID.String()),
				zap.Int64("audit_id", r.AuditID),
				zap.String("detail", r.Detail),
			)
		}
	}
	c.JSON(http.StatusOK, gin.H{"event_uuid": eventUUID, "valid": valid, "entries": results})
}

// Completeness handles GET /events/:event_uuid/completeness.
func (h *Handler) Completeness(c *gin.Context) {
	if !h.authorizeCompliance(c) {
		return
	}
	eventUUID, err := uuid.Parse(c.Param("event_uuid"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event_uuid must be a UUID"})
		return
	}

	report, err := h.reporter.CheckCompleteness(c.Request.Context(), eventUUID)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	if err != nil {
		h.logger.Error("completeness check", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "completeness check failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// entryByParam loads the entry named by the :audit_id route parameter and
// authorizes the actor against its patient and site.
func (h *Handler) entryByParam(c *gin.Context, action policy.Action) (*ledger.Entry, bool) {
	actor, ok := currentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no actor"})
		return nil, false
	}

	auditID, err := strconv.ParseInt(c.Param("audit_id"), 10, 64)
	if err != nil || auditID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audit_id must be a positive integer"})
		return nil, false
	}

	entry, err := h.store.GetEntry(c.Request.Context(), auditID)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return nil, false
	}
	if err != nil {
		h.logger.Error("read entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read entry"})
		return nil, false
	}

	if d := h.engine.CanAccess(c.Request.Context(), actor, entry.PatientID, entry.SiteID, action); !d.Allowed {
		accessDeniedTotal.Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied", "reason": d.Reason})
		return nil, false
	}
	return entry, true
}

// GetEntry handles GET /entries/:audit_id.
func (h *Handler) GetEntry(c *gin.Context) {
	entry, ok := h.entryByParam(c, policy.ActionRead)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, entry)
}

// VerifyEntry handles GET /entries/:audit_id/verify.
func (h *Handler) VerifyEntry(c *gin.Context) {
	entry, ok := h.entryByParam(c, policy.ActionRead)
	if !ok {
		return
	}

	valid, err := ledger.VerifyEntry(c.Request.Context(), h.store, entry.AuditID)
	if err != nil {
		h.logger.Error("verify entry", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}
	if !valid {
		verifyFailuresTotal.Inc()
		h.logger.Error("tamper detected", zap.Int64("audit_id", entry.AuditID))
	}
	c.JSON(http.StatusOK, gin.H{"audit_id": entry.AuditID, "valid": valid})
}

// authorizeCompliance gates compliance-reporter outputs (auditor and
// administrator roles).
func (h *Handler) authorizeCompliance(c *gin.Context) bool {
	actor, ok := currentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no actor"})
		return false
	}
	if d := h.engine.CanAccess(c.Request.Context(), actor, "", "", policy.ActionCompliance); !d.Allowed {
		accessDeniedTotal.Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied", "reason": d.Reason})
		return false
	}
	return true
}

// ValidateALCOA handles GET /entries/:audit_id/alcoa.
func (h *Handler) ValidateALCOA(c *gin.Context) {
	if !h.authorizeCompliance(c) {
		return
	}
	auditID, err := strconv.ParseInt(c.Param("audit_id"), 10, 64)
	if err != nil || auditID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "audit_id must be a positive integer"})
		return
	}

	report, err := h.reporter.ValidateALCOA(c.Request.Context(), auditID)
	if errors.Is(err, ledger.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "entry not found"})
		return
	}
	if err != nil {
		h.logger.Error("alcoa validation", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "validation failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// Overview handles GET /ledger.
func (h *Handler) Overview(c *gin.Context) {
	if !h.authorizeCompliance(c) {
		return
	}
	count, err := h.store.Count(c.Request.Context())
	if err != nil {
		h.logger.Error("ledger count", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to query ledger"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": count})
}

// Gaps handles GET /ledger/gaps — the out-of-band tamper detector.
func (h *Handler) Gaps(c *gin.Context) {
	if !h.authorizeCompliance(c) {
		return
	}
	gaps, err := h.store.SequenceGaps(c.Request.Context())
	if err != nil {
		h.logger.Error("sequence gap check", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "gap check failed"})
		return
	}
	if len(gaps) > 0 {
		verifyFailuresTotal.Inc()
		h.logger.Error("sequence gaps detected", zap.Int("ranges", len(gaps)))
	}
	c.JSON(http.StatusOK, gin.H{"gaps": gaps, "intact": len(gaps) == 0})
}

func contextWithTimeout(c *gin.Context, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request.Context(), d)
}

// timeRange parses from/to query parameters, defaulting to the last 24 hours.
func timeRange(c *gin.Context) (time.Time, time.Time, error) {
	now := time.Now().UTC()
	from, to := now.Add(-24*time.Hour), now

	var err error
	if s := c.Query("from"); s != "" {
		if from, err = time.Parse(time.RFC3339, s); err != nil {
			return from, to, err
		}
	}
	if s := c.Query("to"); s != "" {
		if to, err = time.Parse(time.RFC3339, s); err != nil {
			return from, to, err
		}
	}
	return from, to, nil
}

// VerifyBatch handles GET /ledger/verify?from=&to=.
func (h *Handler) VerifyBatch(c *gin.Context) {
	if !h.authorizeCompliance(c) {
		return
	}
	from, to, err := timeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from/to must be RFC 3339 timestamps"})
		return
	}

	ctx, cancel := contextWithTimeout(c, h.scanTimeout)
	defer cancel()

	summary, err := ledger.VerifyBatch(ctx, h.store, from, to)
	if err != nil {
		h.logger.Error("batch verification", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "batch verification failed"})
		return
	}
	if summary.Invalid > 0 {
		verifyFailuresTotal.Inc()
		h.logger.Error("tamper detected in batch",
			zap.Int64("invalid", summary.Invalid),
			zap.Int64s("audit_ids", summary.InvalidIDs),
		)
	}
	c.JSON(http.StatusOK, summary)
}

// ComplianceReport handles GET /reports/compliance?from=&to=.
func (h *Handler) ComplianceReport(c *gin.Context) {
	if !h.authorizeCompliance(c) {
		return
	}
	from, to, err := timeRange(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from/to must be RFC 3339 timestamps"})
		return
	}

	ctx, cancel := contextWithTimeout(c, h.scanTimeout)
	defer cancel()

	report, err := h.reporter.GenerateReport(ctx, from, to)
	if err != nil {
		h.logger.Error("compliance report", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "report generation failed"})
		return
	}
	c.JSON(http.StatusOK, report)
}

// conflictByParam loads the conflict record named by :conflict_id and
// authorizes the actor against the event it concerns.
func (h *Handler) conflictByParam(c *gin.Context, action policy.Action) (*conflict.Record, policy.Actor, bool) {
	actor, ok := currentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no actor"})
		return nil, actor, false
	}

	conflictID, err := uuid.Parse(c.Param("conflict_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "conflict_id must be a UUID"})
		return nil, actor, false
	}

	rec, err := h.conflicts.Get(c.Request.Context(), conflictID)
	if errors.Is(err, conflict.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "conflict not found"})
		return nil, actor, false
	}
	if err != nil {
		h.logger.Error("read conflict record", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read conflict"})
		return nil, actor, false
	}

	cand := rec.RejectedCandidate
	if d := h.engine.CanAccess(c.Request.Context(), actor, cand.PatientID, cand.SiteID, action); !d.Allowed {
		accessDeniedTotal.Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": "access denied", "reason": d.Reason})
		return nil, actor, false
	}
	return rec, actor, true
}

// ListConflicts handles GET /conflicts — pending divergences awaiting
// resolution. Auditors and administrators see everything; investigators see
// the pending conflicts at their assigned sites.
func (h *Handler) ListConflicts(c *gin.Context) {
	actor, ok := currentActor(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no actor"})
		return
	}

	pending, err := h.conflicts.ListPending(c.Request.Context())
	if err != nil {
		h.logger.Error("list conflicts", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conflicts"})
		return
	}

	visible := make([]*conflict.Record, 0, len(pending))
	for _, rec := range pending {
		cand := rec.RejectedCandidate
		if h.engine.Allows(actor, cand.PatientID, cand.SiteID, policy.ActionRead) {
			visible = append(visible, rec)
		}
	}
	c.JSON(http.StatusOK, gin.H{"conflicts": visible})
}

// GetConflict handles GET /conflicts/:conflict_id.
func (h *Handler) GetConflict(c *gin.Context) {
	rec, _, ok := h.conflictByParam(c, policy.ActionRead)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, rec)
}

// ResolveAuto handles POST /conflicts/:conflict_id/resolve/auto.
func (h *Handler) ResolveAuto(c *gin.Context) {
	rec, _, ok := h.conflictByParam(c, policy.ActionWrite)
	if !ok {
		return
	}

	resolved, entry, err := h.resolver.AutoResolve(c.Request.Context(), rec.ConflictID)
	if err != nil {
		h.writeResolutionError(c, err)
		return
	}
	conflictsResolvedTotal.WithLabelValues("auto").Inc()
	c.JSON(http.StatusOK, gin.H{"conflict": resolved, "resolving_entry": entry})
}

// ManualResolveRequest is the payload for POST /conflicts/:conflict_id/resolve.
type ManualResolveRequest struct {
	Data       json.RawMessage `json:"data" binding:"required"`
	Reason     string          `json:"reason" binding:"required"`
	DeviceInfo string          `json:"device_info" binding:"required"`
	SessionID  string          `json:"session_id" binding:"required"`
}

// ResolveManual handles POST /conflicts/:conflict_id/resolve.
func (h *Handler) ResolveManual(c *gin.Context) {
	rec, actor, ok := h.conflictByParam(c, policy.ActionWrite)
	if !ok {
		return
	}

	var req ManualResolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	resolved, entry, err := h.resolver.ResolveManual(c.Request.Context(), rec.ConflictID, actor, &conflict.ManualResolution{
		Data:       req.Data,
		Reason:     req.Reason,
		DeviceInfo: req.DeviceInfo,
		IPAddress:  c.ClientIP(),
		SessionID:  req.SessionID,
	})
	if err != nil {
		h.writeResolutionError(c, err)
		return
	}
	conflictsResolvedTotal.WithLabelValues("manual").Inc()
	c.JSON(http.StatusOK, gin.H{"conflict": resolved, "resolving_entry": entry})
}

func (h *Handler) writeResolutionError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, conflict.ErrAlreadyResolved):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict already resolved"})
	case errors.Is(err, conflict.ErrManualRoleRequired):
		accessDeniedTotal.Inc()
		c.JSON(http.StatusForbidden, gin.H{"error": err.Error()})
	default:
		h.logger.Error("conflict resolution", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "resolution failed"})
	}
}

// SecurityEvents handles GET /security-events — recent denied attempts for
// anomaly monitoring.
func (h *Handler) SecurityEvents(c *gin.Context) {
	if !h.authorizeCompliance(c) {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	events, err := h.seclog.Recent(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("list security events", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list security events"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
