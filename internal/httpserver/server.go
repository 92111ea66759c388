package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/peershare/booking/pkg/booking"
)

const (
	contextKeyAccountID = "account_id"
	defaultEntriesLimit = 50
	maxEntriesLimit     = 200
)

// Run boots the HTTP facade and blocks until ctx is cancelled or the server
// fails.
func Run(ctx context.Context, cfg Config, service *booking.Service, logger *zap.Logger) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}
	handler := &httpHandler{
		logger:  logger,
		service: service,
		cfg:     cfg,
	}
	router := setupRouter(cfg, handler)

	server := &http.Server{
		Addr:    cfg.ListenAddr,
		Handler: router,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("booking api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func setupRouter(cfg Config, handler *httpHandler) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Authorization"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/api/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.POST("/api/accounts", handler.handleOpenAccount)

	api := router.Group("/api")
	api.Use(identityMiddleware(cfg))

	api.GET("/me/balance", handler.handleBalance)
	api.GET("/me/entries", handler.handleEntries)
	api.POST("/me/deposit", handler.handleDeposit)
	api.POST("/me/withdraw", handler.handleWithdraw)
	api.POST("/items", handler.handleRegisterItem)
	api.GET("/me/items", handler.handleMyItems)
	api.POST("/rentals", handler.handleCreateBooking)
	api.POST("/rentals/:id/cancel", handler.handleCancelBooking)
	api.GET("/me/rentals", handler.handleMyRentals)

	return router
}

// identityMiddleware resolves the current account id from a bearer token.
// Identity management itself lives outside this service; the token subject
// is consumed as an opaque account id.
func identityMiddleware(cfg Config) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		tokenString, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(tokenString) == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Code: "unauthorized", Message: "missing bearer token"})
			return
		}
		token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
			}
			return []byte(cfg.TokenSigningKey), nil
		}, jwt.WithIssuer(cfg.TokenIssuer), jwt.WithExpirationRequired())
		if err != nil || !token.Valid {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Code: "unauthorized", Message: "invalid token"})
			return
		}
		subject, err := token.Claims.GetSubject()
		if err != nil || strings.TrimSpace(subject) == "" {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorBody{Code: "unauthorized", Message: "token has no subject"})
			return
		}
		ctx.Set(contextKeyAccountID, subject)
		ctx.Next()
	}
}

type httpHandler struct {
	logger  *zap.Logger
	service *booking.Service
	cfg     Config
}

func (handler *httpHandler) currentAccountID(ctx *gin.Context) (booking.AccountID, bool) {
	raw := ctx.GetString(contextKeyAccountID)
	accountID, err := booking.NewAccountID(raw)
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorBody{Code: "unauthorized", Message: "missing account id"})
		return booking.AccountID{}, false
	}
	return accountID, true
}

func (handler *httpHandler) handleOpenAccount(ctx *gin.Context) {
	var request openAccountRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody{Code: "invalid_payload", Message: "expected JSON body with display_name"})
		return
	}
	account, err := handler.service.OpenAccount(ctx.Request.Context(), request.DisplayName)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, accountResponse{
		AccountID:    account.AccountID,
		DisplayName:  account.DisplayName,
		BalanceCents: account.BalanceCents.Int64(),
	})
}

func (handler *httpHandler) handleBalance(ctx *gin.Context) {
	accountID, ok := handler.currentAccountID(ctx)
	if !ok {
		return
	}
	balance, err := handler.service.Balance(ctx.Request.Context(), accountID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, balanceResponse{AccountID: accountID.String(), BalanceCents: balance.Int64()})
}

func (handler *httpHandler) handleEntries(ctx *gin.Context) {
	accountID, ok := handler.currentAccountID(ctx)
	if !ok {
		return
	}
	limit := defaultEntriesLimit
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > maxEntriesLimit {
			ctx.JSON(http.StatusBadRequest, errorBody{Code: "invalid_limit", Message: fmt.Sprintf("limit must be in 1..%d", maxEntriesLimit)})
			return
		}
		limit = parsed
	}
	var before int64
	if raw := ctx.Query("before"); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			ctx.JSON(http.StatusBadRequest, errorBody{Code: "invalid_before", Message: "before must be a unix timestamp"})
			return
		}
		before = parsed
	}
	entries, err := handler.service.ListEntries(ctx.Request.Context(), accountID, before, limit)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := make([]entryResponse, 0, len(entries))
	for _, entry := range entries {
		response = append(response, entryResponse{
			EntryID:     entry.EntryID,
			Kind:        entry.Kind.String(),
			AmountCents: entry.AmountCents.Int64(),
			RentalID:    entry.RentalID,
			GroupID:     entry.GroupID,
			CreatedUnix: entry.CreatedUnixUTC,
		})
	}
	ctx.JSON(http.StatusOK, gin.H{"entries": response})
}

func (handler *httpHandler) handleDeposit(ctx *gin.Context) {
	handler.handleFunding(ctx, handler.service.Deposit)
}

func (handler *httpHandler) handleWithdraw(ctx *gin.Context) {
	handler.handleFunding(ctx, handler.service.Withdraw)
}

func (handler *httpHandler) handleFunding(ctx *gin.Context, move func(context.Context, booking.AccountID, booking.PositiveAmountCents, booking.MetadataJSON) error) {
	accountID, ok := handler.currentAccountID(ctx)
	if !ok {
		return
	}
	var request fundingRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody{Code: "invalid_payload", Message: "expected JSON body with amount_cents"})
		return
	}
	amount, err := booking.NewPositiveAmountCents(request.AmountCents)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := booking.NewMetadataJSON(marshalMetadata(request.Metadata))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	if err := move(ctx.Request.Context(), accountID, amount, metadata); err != nil {
		handler.respondError(ctx, err)
		return
	}
	handler.handleBalance(ctx)
}

func (handler *httpHandler) handleRegisterItem(ctx *gin.Context) {
	accountID, ok := handler.currentAccountID(ctx)
	if !ok {
		return
	}
	var request registerItemRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody{Code: "invalid_payload", Message: "expected JSON body with title, category, price_per_day_cents"})
		return
	}
	category, err := booking.ParseCategory(request.Category)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	price, err := booking.NewPositiveAmountCents(request.PricePerDayCents)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	item, err := handler.service.RegisterItem(ctx.Request.Context(), accountID, request.Title, category, price)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, mapItemResponse(item))
}

func (handler *httpHandler) handleMyItems(ctx *gin.Context) {
	accountID, ok := handler.currentAccountID(ctx)
	if !ok {
		return
	}
	items, err := handler.service.ItemsByOwner(ctx.Request.Context(), accountID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := make([]itemResponse, 0, len(items))
	for _, item := range items {
		response = append(response, mapItemResponse(item))
	}
	ctx.JSON(http.StatusOK, gin.H{"items": response})
}

func (handler *httpHandler) handleCreateBooking(ctx *gin.Context) {
	accountID, ok := handler.currentAccountID(ctx)
	if !ok {
		return
	}
	var request createBookingRequest
	if err := ctx.ShouldBindJSON(&request); err != nil {
		ctx.JSON(http.StatusBadRequest, errorBody{Code: "invalid_payload", Message: "expected JSON body with item_id, start_date, end_date"})
		return
	}
	itemID, err := booking.NewItemID(request.ItemID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	start, err := booking.ParseDate(request.StartDate)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	end, err := booking.ParseDate(request.EndDate)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	dateRange, err := booking.NewDateRange(start, end)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := booking.NewMetadataJSON(marshalMetadata(request.Metadata))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	rental, err := handler.service.CreateBooking(ctx.Request.Context(), itemID, accountID, dateRange, metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, mapRentalResponse(rental))
}

func (handler *httpHandler) handleCancelBooking(ctx *gin.Context) {
	accountID, ok := handler.currentAccountID(ctx)
	if !ok {
		return
	}
	rentalID, err := booking.NewRentalID(ctx.Param("id"))
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	metadata, err := booking.NewMetadataJSON("")
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	rental, err := handler.service.CancelBooking(ctx.Request.Context(), rentalID, accountID, metadata)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusOK, mapRentalResponse(rental))
}

func (handler *httpHandler) handleMyRentals(ctx *gin.Context) {
	accountID, ok := handler.currentAccountID(ctx)
	if !ok {
		return
	}
	asRenter, err := handler.service.RentalsByRenter(ctx.Request.Context(), accountID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	asOwner, err := handler.service.RentalsByOwner(ctx.Request.Context(), accountID)
	if err != nil {
		handler.respondError(ctx, err)
		return
	}
	response := rentalsResponse{
		AsRenter: make([]rentalResponse, 0, len(asRenter)),
		AsOwner:  make([]rentalResponse, 0, len(asOwner)),
	}
	for _, rental := range asRenter {
		response.AsRenter = append(response.AsRenter, mapRentalResponse(rental))
	}
	for _, rental := range asOwner {
		response.AsOwner = append(response.AsOwner, mapRentalResponse(rental))
	}
	ctx.JSON(http.StatusOK, response)
}

func (handler *httpHandler) respondError(ctx *gin.Context, err error) {
	status, code := errorStatus(err)
	if status == http.StatusInternalServerError {
		handler.logger.Error("request failed", zap.Error(err))
	}
	ctx.JSON(status, errorBody{Code: code, Message: err.Error()})
}

func errorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, booking.ErrInvalidRange),
		errors.Is(err, booking.ErrInvalidDate),
		errors.Is(err, booking.ErrInvalidAmountCents),
		errors.Is(err, booking.ErrInvalidCategory),
		errors.Is(err, booking.ErrInvalidMetadataJSON),
		errors.Is(err, booking.ErrInvalidAccountID),
		errors.Is(err, booking.ErrInvalidItemID),
		errors.Is(err, booking.ErrInvalidRentalID):
		return http.StatusBadRequest, "invalid_request"
	case errors.Is(err, booking.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	case errors.Is(err, booking.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, booking.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, booking.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, booking.ErrAccountExists):
		return http.StatusConflict, "account_exists"
	case errors.Is(err, booking.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity, "insufficient_funds"
	}
	return http.StatusInternalServerError, "internal_error"
}

func mapItemResponse(item booking.Item) itemResponse {
	return itemResponse{
		ItemID:           item.ItemID,
		OwnerAccountID:   item.OwnerAccountID,
		Title:            item.Title,
		Category:         item.Category.String(),
		PricePerDayCents: item.PricePerDayCents.Int64(),
	}
}

func mapRentalResponse(rental booking.Rental) rentalResponse {
	return rentalResponse{
		RentalID:        rental.RentalID,
		ItemID:          rental.ItemID,
		RenterAccountID: rental.RenterAccountID,
		OwnerAccountID:  rental.OwnerAccountID,
		StartDate:       rental.Start.String(),
		EndDate:         rental.End.String(),
		TotalPriceCents: rental.TotalPriceCents.Int64(),
		Status:          rental.Status.String(),
	}
}

func marshalMetadata(metadata map[string]any) string {
	if len(metadata) == 0 {
		return ""
	}
	encoded, err := json.Marshal(metadata)
	if err != nil {
		return ""
	}
	return string(encoded)
}
