package api

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"marketplace-service/internal/apperrors"
	"marketplace-service/internal/models"
	"marketplace-service/internal/service"
	"marketplace-service/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// processor payloads are small; anything larger is not a real delivery
const maxWebhookBytes = 64 << 10

func init() {
	binding.EnableDecoderDisallowUnknownFields = true
}

// Pinger is a dependency checked by the readiness probe
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders         *service.OrderService
	payments       *service.PaymentService
	enrollments    *service.EnrollmentService
	reviews        *service.ReviewService
	tokens         *TokenManager
	allowedOrigins []string
	checks         map[string]Pinger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	payments *service.PaymentService,
	enrollments *service.EnrollmentService,
	reviews *service.ReviewService,
	tokens *TokenManager,
	allowedOrigins []string,
	checks map[string]Pinger,
) *Handler {
	return &Handler{
		orders:         orders,
		payments:       payments,
		enrollments:    enrollments,
		reviews:        reviews,
		tokens:         tokens,
		allowedOrigins: allowedOrigins,
		checks:         checks,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	if len(h.allowedOrigins) > 0 {
		config := cors.DefaultConfig()
		config.AllowOrigins = h.allowedOrigins
		config.AllowCredentials = true
		config.AllowHeaders = []string{"Origin", "Content-Length", "Content-Type", "Authorization"}
		config.AllowMethods = []string{"GET", "POST", "PATCH", "OPTIONS"}
		router.Use(cors.New(config))
	}

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/payments/webhook", h.paymentWebhook)
		v1.GET("/reviews/:targetType/:targetId", h.listReviews)

		authed := v1.Group("")
		authed.Use(AuthRequired(h.tokens))
		{
			authed.POST("/orders", h.createOrder)
			authed.GET("/orders/my", h.listMyOrders)
			authed.GET("/orders/:id", h.getOrder)
			authed.GET("/orders", RequireAdmin(), h.listAllOrders)
			authed.PATCH("/orders/:id/status", RequireAdmin(), h.updateOrderStatus)

			authed.POST("/payments/create-intent", h.createPaymentIntent)
			authed.GET("/payments/status/:orderId", h.paymentStatus)

			authed.POST("/courses/:id/enroll", h.enroll)
			authed.GET("/courses/:id/enrollment", h.getEnrollment)
			authed.GET("/courses/:id/progress", h.getProgress)
			authed.POST("/courses/:id/progress/:lessonId/complete", h.completeLesson)

			authed.POST("/reviews", h.submitReview)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, p := range h.checks {
		if err := p.Ping(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func idParam(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid " + name})
		return 0, false
	}
	return id, true
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	order, err := h.orders.CreateOrder(c.Request.Context(), currentUserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listMyOrders(c *gin.Context) {
	orders, err := h.orders.ListMyOrders(c.Request.Context(), currentUserID(c))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	order, err := h.orders.GetOrderForUser(c.Request.Context(), currentUserID(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) listAllOrders(c *gin.Context) {
	orders, err := h.orders.ListAllOrders(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, orders)
}

func (h *Handler) updateOrderStatus(c *gin.Context) {
	orderID, ok := idParam(c, "id")
	if !ok {
		return
	}

	var req service.UpdateStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	order, err := h.orders.UpdateFulfillmentStatus(c.Request.Context(), orderID, req.Status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

func (h *Handler) createPaymentIntent(c *gin.Context) {
	var req service.CreateIntentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	resp, err := h.payments.CreatePaymentIntent(c.Request.Context(), currentUserID(c), req.OrderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) paymentStatus(c *gin.Context) {
	orderID, ok := idParam(c, "orderId")
	if !ok {
		return
	}

	resp, err := h.payments.PaymentStatus(c.Request.Context(), currentUserID(c), orderID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// paymentWebhook hands the untouched body to signature verification. Anything
// past verification is acknowledged so the processor stops retrying.
func (h *Handler) paymentWebhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable body"})
		return
	}

	if _, err := h.payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

func (h *Handler) enroll(c *gin.Context) {
	courseID, ok := idParam(c, "id")
	if !ok {
		return
	}

	enrollment, created, err := h.enrollments.Enroll(c.Request.Context(), currentUserID(c), courseID)
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, enrollment)
}

func (h *Handler) getEnrollment(c *gin.Context) {
	courseID, ok := idParam(c, "id")
	if !ok {
		return
	}

	enrollment, err := h.enrollments.GetEnrollment(c.Request.Context(), currentUserID(c), courseID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, enrollment)
}

func (h *Handler) getProgress(c *gin.Context) {
	courseID, ok := idParam(c, "id")
	if !ok {
		return
	}

	progress, err := h.enrollments.GetProgress(c.Request.Context(), currentUserID(c), courseID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, progress)
}

func (h *Handler) completeLesson(c *gin.Context) {
	courseID, ok := idParam(c, "id")
	if !ok {
		return
	}
	lessonID, ok := idParam(c, "lessonId")
	if !ok {
		return
	}

	enrollment, err := h.enrollments.CompleteLesson(c.Request.Context(), currentUserID(c), courseID, lessonID)
	if apperrors.IsNotFoundResource(err, "enrollment") {
		c.JSON(http.StatusForbidden, gin.H{"error": "Not enrolled in this course"})
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, enrollment)
}

func (h *Handler) submitReview(c *gin.Context) {
	var req service.SubmitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBindError(c, err)
		return
	}

	review, err := h.reviews.SubmitReview(c.Request.Context(), currentUserID(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, review)
}

func (h *Handler) listReviews(c *gin.Context) {
	targetID, ok := idParam(c, "targetId")
	if !ok {
		return
	}

	reviews, err := h.reviews.ListReviews(c.Request.Context(), models.TargetType(c.Param("targetType")), targetID)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, reviews)
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
