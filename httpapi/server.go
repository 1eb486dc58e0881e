// Package httpapi exposes the marketplace over HTTP: catalog browsing,
// listing creation, purchase, and trade history.
package httpapi

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	algomart "github.com/algomart-labs/algomart-go"
)

// catalog is the store surface the API reads and writes. Satisfied by both
// the postgres and memory stores.
type catalog interface {
	SelectListing(ctx context.Context, id uuid.UUID) (*algomart.Listing, error)
	InsertListing(ctx context.Context, listing *algomart.Listing) error
	AvailableListings(ctx context.Context) ([]algomart.Listing, error)
	ConditionalUpdateListingStatus(ctx context.Context, id uuid.UUID, expected, next algomart.ListingStatus) (bool, error)
	Trades(ctx context.Context) ([]algomart.Trade, error)
}

// purchaser runs a purchase to an outcome. Satisfied by algomart.Coordinator.
type purchaser interface {
	Purchase(ctx context.Context, listingID uuid.UUID) (*algomart.PurchaseResult, error)
}

// pinner uploads listing media to IPFS. Satisfied by ipfs.Pinner.
type pinner interface {
	Pin(ctx context.Context, filename string, contents io.Reader) (string, error)
	GatewayURL(hash string) string
}

// Server wires the marketplace handlers onto a gin engine.
type Server struct {
	store       catalog
	coordinator purchaser
	pinner      pinner
	log         *zap.Logger
	engine      *gin.Engine
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithPinner enables the media upload endpoint.
func WithPinner(p pinner) ServerOption {
	return func(s *Server) {
		s.pinner = p
	}
}

// NewServer builds the HTTP server. A nil logger disables logging.
func NewServer(store catalog, coordinator purchaser, log *zap.Logger, opts ...ServerOption) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		store:       store,
		coordinator: coordinator,
		log:         log,
	}
	for _, opt := range opts {
		opt(s)
	}

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{"GET", "POST", "OPTIONS"},
		AllowHeaders: []string{"Origin", "Content-Type", "Accept"},
		MaxAge:       12 * time.Hour,
	}))

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/listings", s.handleListListings)
	engine.GET("/listings/:id", s.handleGetListing)
	engine.POST("/listings", s.handleCreateListing)
	engine.POST("/listings/:id/buy", s.handleBuy)
	engine.POST("/listings/:id/cancel", s.handleCancelListing)
	engine.GET("/trades", s.handleListTrades)
	if s.pinner != nil {
		engine.POST("/media", s.handleUploadMedia)
	}

	s.engine = engine
	return s
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails.
func (s *Server) Run(addr string) error {
	return s.engine.Run(addr)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleListListings(c *gin.Context) {
	listings, err := s.store.AvailableListings(c.Request.Context())
	if err != nil {
		s.log.Error("list listings failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	if listings == nil {
		listings = []algomart.Listing{}
	}
	c.JSON(http.StatusOK, listings)
}

func (s *Server) handleGetListing(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing id"})
		return
	}
	listing, err := s.store.SelectListing(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, algomart.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
			return
		}
		s.log.Error("get listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	c.JSON(http.StatusOK, listing)
}

type createListingRequest struct {
	SellerAddress string  `json:"seller_address" binding:"required"`
	Title         string  `json:"title" binding:"required"`
	Description   string  `json:"description"`
	PriceAlgo     float64 `json:"price_algo" binding:"required,gt=0"`
	MediaHash     string  `json:"media_hash"`
}

func (s *Server) handleCreateListing(c *gin.Context) {
	var req createListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now().UTC()
	listing := &algomart.Listing{
		ID:            uuid.New(),
		SellerAddress: req.SellerAddress,
		Title:         req.Title,
		Description:   req.Description,
		PriceAlgo:     req.PriceAlgo,
		MediaHash:     req.MediaHash,
		Status:        algomart.ListingAvailable,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.InsertListing(c.Request.Context(), listing); err != nil {
		s.log.Error("create listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	c.JSON(http.StatusCreated, listing)
}

type cancelListingRequest struct {
	SellerAddress string `json:"seller_address" binding:"required"`
}

// handleCancelListing withdraws an AVAILABLE listing. Only the seller may
// cancel, and the same conditional update that arbitrates claims arbitrates
// cancellation: a listing mid-settlement cannot be pulled out from under
// its buyer.
func (s *Server) handleCancelListing(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing id"})
		return
	}
	var req cancelListingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	listing, err := s.store.SelectListing(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, algomart.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
			return
		}
		s.log.Error("cancel listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	if listing.SellerAddress != req.SellerAddress {
		c.JSON(http.StatusForbidden, gin.H{"error": "only the seller may cancel"})
		return
	}

	cancelled, err := s.store.ConditionalUpdateListingStatus(c.Request.Context(), id, algomart.ListingAvailable, algomart.ListingCancelled)
	if err != nil {
		s.log.Error("cancel listing failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	if !cancelled {
		c.JSON(http.StatusConflict, gin.H{"error": "listing is not available", "status": listing.Status})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": algomart.ListingCancelled})
}

func (s *Server) handleBuy(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing id"})
		return
	}

	result, err := s.coordinator.Purchase(c.Request.Context(), id)
	if err != nil {
		s.writePurchaseError(c, result, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// writePurchaseError maps settlement error codes onto HTTP statuses. The
// terminal state still rides along in the body when the coordinator
// produced one, so clients can distinguish "lost the claim" from "payment
// outcome unknown".
func (s *Server) writePurchaseError(c *gin.Context, result *algomart.PurchaseResult, err error) {
	status := http.StatusInternalServerError
	switch algomart.CodeOf(err) {
	case algomart.ErrCodeClaimDenied:
		status = http.StatusConflict
	case algomart.ErrCodeSigningDenied, algomart.ErrCodeTransactionRejected:
		status = http.StatusUnprocessableEntity
	case algomart.ErrCodeSessionLost, algomart.ErrCodeConnectionRejected:
		status = http.StatusBadGateway
	case algomart.ErrCodeConfirmationTimeout:
		status = http.StatusAccepted
	case algomart.ErrCodeReconcileNeeded:
		status = http.StatusAccepted
	case algomart.ErrCodeStoreUnavailable:
		status = http.StatusServiceUnavailable
	default:
		if errors.Is(err, algomart.ErrNotFound) {
			status = http.StatusNotFound
		} else if errors.Is(err, algomart.ErrSelfPurchase) {
			status = http.StatusBadRequest
		}
	}

	body := gin.H{"error": err.Error()}
	if code := algomart.CodeOf(err); code != "" {
		body["code"] = code
	}
	if txid := algomart.TxIDOf(err); txid != "" {
		body["txid"] = txid
	}
	if result != nil {
		body["state"] = result.State
	}

	if status >= http.StatusInternalServerError {
		s.log.Error("purchase failed", zap.Error(err))
	} else {
		s.log.Warn("purchase did not complete", zap.Error(err))
	}
	c.JSON(status, body)
}

// handleUploadMedia pins an uploaded file and returns its content hash plus
// a gateway URL for display.
func (s *Server) handleUploadMedia(c *gin.Context) {
	header, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file"})
		return
	}
	file, err := header.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable file"})
		return
	}
	defer file.Close()

	hash, err := s.pinner.Pin(c.Request.Context(), header.Filename, file)
	if err != nil {
		s.log.Error("media pin failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "pinning service unavailable"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"media_hash": hash,
		"url":        s.pinner.GatewayURL(hash),
	})
}

func (s *Server) handleListTrades(c *gin.Context) {
	trades, err := s.store.Trades(c.Request.Context())
	if err != nil {
		s.log.Error("list trades failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "store unavailable"})
		return
	}
	if trades == nil {
		trades = []algomart.Trade{}
	}
	c.JSON(http.StatusOK, trades)
}
