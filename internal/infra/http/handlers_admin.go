package http

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"octo/internal/domain"
	"octo/internal/usecase"

	"github.com/gin-gonic/gin"
)

type publishRequest struct {
	RID            string           `json:"rid"`
	EventType      domain.EventType `json:"event_type"`
	Manifest       *domain.Manifest `json:"manifest,omitempty"`
	Contents       json.RawMessage  `json:"contents,omitempty"`
	Targets        []string         `json:"targets,omitempty"`
	IdempotencyKey string           `json:"idempotency_key,omitempty"`
}

type eventsResponse struct {
	Events []domain.Event `json:"events"`
}

type edgeRequest struct {
	RID        string          `json:"rid,omitempty"`
	SourceNode string          `json:"source_node"`
	TargetNode string          `json:"target_node"`
	EdgeType   domain.EdgeType `json:"edge_type"`
	RIDTypes   []string        `json:"rid_types"`
	Metadata   map[string]any  `json:"metadata,omitempty"`
}

type edgeFilterRequest struct {
	RIDTypes []string `json:"rid_types"`
}

type discoverRequest struct {
	BaseURL string `json:"base_url"`
}

type aliasRequest struct {
	Alias string `json:"alias"`
}

type aliasResponse struct {
	Alias   string `json:"alias"`
	NodeRID string `json:"node_rid"`
}

type retractRequest struct {
	DocumentRID string `json:"document_rid"`
}

type retractResponse struct {
	DocumentRID string   `json:"document_rid"`
	Retracted   []string `json:"retracted"`
}

type reviewRequest struct {
	DocumentRID string              `json:"document_rid"`
	Decision    domain.IntakeStatus `json:"decision"`
	Reviewer    string              `json:"reviewer"`
	Notes       string              `json:"notes,omitempty"`
}

// bindJSON writes the 400 itself; callers just return on false.
func bindJSON(c *gin.Context, out any) bool {
	if err := c.ShouldBindJSON(out); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return false
	}
	return true
}

func (s *Server) handlePublish(c *gin.Context) {
	var req publishRequest
	if !bindJSON(c, &req) {
		return
	}
	targets := domain.Broadcast()
	if len(req.Targets) > 0 {
		rids := make([]string, 0, len(req.Targets))
		for _, t := range req.Targets {
			node, err := s.nodes.Lookup(c.Request.Context(), t)
			if err != nil {
				writeError(c, err)
				return
			}
			rids = append(rids, node.RID)
		}
		targets = domain.Unicast(rids...)
	}
	events, err := s.publisher.Publish(c.Request.Context(), usecase.PublishRequest{
		RID:            req.RID,
		EventType:      req.EventType,
		Manifest:       req.Manifest,
		Contents:       req.Contents,
		Targets:        targets,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, eventsResponse{Events: events})
}

func (s *Server) handleProposeEdge(c *gin.Context) {
	var req edgeRequest
	if !bindJSON(c, &req) {
		return
	}
	edge, err := s.edges.Propose(c.Request.Context(), domain.Edge{
		RID:        req.RID,
		SourceNode: req.SourceNode,
		TargetNode: req.TargetNode,
		EdgeType:   req.EdgeType,
		RIDTypes:   req.RIDTypes,
		Metadata:   req.Metadata,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, edge)
}

func (s *Server) handleApproveEdge(c *gin.Context) {
	edge, err := s.edges.Approve(c.Request.Context(), c.Param("edge_rid"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, edge)
}

func (s *Server) handleUpdateEdgeFilter(c *gin.Context) {
	var req edgeFilterRequest
	if !bindJSON(c, &req) {
		return
	}
	edge, err := s.edges.UpdateFilter(c.Request.Context(), c.Param("edge_rid"), req.RIDTypes)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, edge)
}

func (s *Server) handleListPeers(c *gin.Context) {
	nodes, err := s.nodes.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"peers": nodes})
}

func (s *Server) handleDiscover(c *gin.Context) {
	var req discoverRequest
	if !bindJSON(c, &req) {
		return
	}
	if s.handshake == nil {
		writeError(c, domain.ErrFederationDisabled)
		return
	}
	node, err := s.handshake.Discover(c.Request.Context(), req.BaseURL)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, node)
}

func (s *Server) handleSetAlias(c *gin.Context) {
	var req aliasRequest
	if !bindJSON(c, &req) {
		return
	}
	node, err := s.nodes.Lookup(c.Request.Context(), c.Param("node"))
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.nodes.SetAlias(c.Request.Context(), req.Alias, node.RID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, aliasResponse{Alias: strings.TrimSpace(req.Alias), NodeRID: node.RID})
}

func (s *Server) handleOffboard(c *gin.Context) {
	report, err := s.ledger.Offboard(c.Request.Context(), c.Param("node"))
	if err != nil {
		if len(report.Failed) > 0 {
			c.JSON(http.StatusBadGateway, errorResponse{
				Code:    "OFFBOARD_INCOMPLETE",
				Message: err.Error(),
				Details: map[string]any{"report": report},
			})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleListShares(c *gin.Context) {
	node, err := s.nodes.Lookup(c.Request.Context(), c.Param("node"))
	if err != nil {
		writeError(c, err)
		return
	}
	shares, err := s.ledger.ActiveShares(c.Request.Context(), node.RID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"target_node": node.RID, "shares": shares})
}

func (s *Server) handleRetractDocument(c *gin.Context) {
	var req retractRequest
	if !bindJSON(c, &req) {
		return
	}
	rid := strings.TrimSpace(req.DocumentRID)
	if rid == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "document_rid is required")
		return
	}
	retracted, err := s.ledger.RetractDocument(c.Request.Context(), rid)
	resp := retractResponse{DocumentRID: rid, Retracted: retracted}
	if resp.Retracted == nil {
		resp.Retracted = []string{}
	}
	if err != nil {
		c.JSON(http.StatusBadGateway, errorResponse{
			Code:    "RETRACT_INCOMPLETE",
			Message: err.Error(),
			Details: map[string]any{"retracted": resp.Retracted},
		})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleListIntake(c *gin.Context) {
	filter := domain.IntakeFilter{
		DocumentRID:   c.Query("document_rid"),
		SenderNode:    c.Query("sender_node"),
		RecipientType: domain.RecipientType(c.Query("recipient_type")),
		Status:        domain.DocumentStatus(c.Query("status")),
		IntakeStatus:  domain.IntakeStatus(c.Query("intake_status")),
	}
	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid limit")
			return
		}
		filter.Limit = limit
	}
	docs, err := s.intake.List(c.Request.Context(), filter)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"documents": docs})
}

func (s *Server) handleReview(c *gin.Context) {
	var req reviewRequest
	if !bindJSON(c, &req) {
		return
	}
	doc, err := s.intake.Review(c.Request.Context(), usecase.ReviewRequest{
		DocumentRID: req.DocumentRID,
		Decision:    req.Decision,
		Reviewer:    req.Reviewer,
		Notes:       req.Notes,
	})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

func (s *Server) handleLinkXRef(c *gin.Context) {
	var ref domain.CrossReference
	if !bindJSON(c, &ref) {
		return
	}
	stored, err := s.xrefs.Link(c.Request.Context(), ref)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

func (s *Server) handleListXRefs(c *gin.Context) {
	var (
		refs []domain.CrossReference
		err  error
	)
	switch {
	case c.Query("remote_rid") != "":
		refs, err = s.xrefs.ForRemote(c.Request.Context(), c.Query("remote_rid"))
	case c.Query("local_uri") != "":
		refs, err = s.xrefs.ForLocal(c.Request.Context(), c.Query("local_uri"))
	default:
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "remote_rid or local_uri is required")
		return
	}
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"xrefs": refs})
}
