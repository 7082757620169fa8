package main

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/retail_backend/middlewares"
	"github.com/mmdatafocus/retail_backend/models"
	"github.com/mmdatafocus/retail_backend/policy"
	"github.com/mmdatafocus/retail_backend/utils"
)

const idempotencyHeader = "Idempotency-Key"

var statusByKind = map[utils.ErrorKind]int{
	utils.KindValidation:       http.StatusBadRequest,
	utils.KindPermissionDenied: http.StatusForbidden,
	utils.KindNotFound:         http.StatusNotFound,
	utils.KindConflict:         http.StatusConflict,
	utils.KindIntegrity:        http.StatusInternalServerError,
	utils.KindInternal:         http.StatusInternalServerError,
}

// writeError renders a classified failure. Internal details never leave the
// process; the correlation id ties the response to the error log.
func writeError(c *gin.Context, err error) {
	appErr := utils.AsAppError(err)
	status, ok := statusByKind[appErr.Kind]
	if !ok {
		status = http.StatusInternalServerError
	}
	body := gin.H{
		"error": appErr.Message,
		"code":  appErr.Code,
		"kind":  appErr.Kind,
	}
	if status == http.StatusInternalServerError {
		body["error"] = "internal error"
		_ = c.Error(err)
	}
	if cid, ok := utils.GetCorrelationIdFromContext(c.Request.Context()); ok {
		body["correlation_id"] = cid
	}
	if status != http.StatusInternalServerError && len(appErr.Metadata) > 0 {
		body["details"] = appErr.Metadata
	}
	c.JSON(status, body)
}

// callerAndId reads the identity and the :id path parameter, writing the
// error response when either is missing.
func callerAndId(c *gin.Context) (policy.Identity, int, bool) {
	identity, ok := middlewares.CtxIdentity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return identity, 0, false
	}
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		writeError(c, utils.NewValidationError("INVALID_ID", "id must be a positive integer"))
		return identity, 0, false
	}
	return identity, id, true
}

func bindJSON(c *gin.Context, dest any) bool {
	if err := c.ShouldBindJSON(dest); err != nil {
		writeError(c, utils.NewValidationError("INVALID_REQUEST", "invalid request body"))
		return false
	}
	return true
}

func createCustomerHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, _ := middlewares.CtxIdentity(c)
		var input models.NewCustomer
		if !bindJSON(c, &input) {
			return
		}
		customer, err := models.CreateCustomer(c.Request.Context(), identity, &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, customer)
	}
}

func createSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, _ := middlewares.CtxIdentity(c)
		var input models.NewSale
		if !bindJSON(c, &input) {
			return
		}
		input.IdempotencyKey = c.GetHeader(idempotencyHeader)
		res, err := models.CreateSale(c.Request.Context(), identity, &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

func getSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, id, ok := callerAndId(c)
		if !ok {
			return
		}
		sale, err := models.GetSale(c.Request.Context(), identity, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, sale)
	}
}

func updateSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, id, ok := callerAndId(c)
		if !ok {
			return
		}
		var input models.NewSale
		if !bindJSON(c, &input) {
			return
		}
		res, err := models.UpdateSale(c.Request.Context(), identity, id, &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func cancelSaleHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, id, ok := callerAndId(c)
		if !ok {
			return
		}
		res, err := models.CancelSale(c.Request.Context(), identity, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func createPurchaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, _ := middlewares.CtxIdentity(c)
		var input models.NewPurchase
		if !bindJSON(c, &input) {
			return
		}
		input.IdempotencyKey = c.GetHeader(idempotencyHeader)
		res, err := models.CreatePurchase(c.Request.Context(), identity, &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, res)
	}
}

func getPurchaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, id, ok := callerAndId(c)
		if !ok {
			return
		}
		purchase, err := models.GetPurchase(c.Request.Context(), identity, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, purchase)
	}
}

func updatePurchaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, id, ok := callerAndId(c)
		if !ok {
			return
		}
		var input models.NewPurchase
		if !bindJSON(c, &input) {
			return
		}
		res, err := models.UpdatePurchase(c.Request.Context(), identity, id, &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func cancelPurchaseHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, id, ok := callerAndId(c)
		if !ok {
			return
		}
		res, err := models.CancelPurchase(c.Request.Context(), identity, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
	}
}

func getReceivableHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, id, ok := callerAndId(c)
		if !ok {
			return
		}
		ar, err := models.GetReceivable(c.Request.Context(), identity, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, ar)
	}
}

func addPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, id, ok := callerAndId(c)
		if !ok {
			return
		}
		var input models.NewPayment
		if !bindJSON(c, &input) {
			return
		}
		payment, err := models.AddPayment(c.Request.Context(), identity, id, &input)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusCreated, payment)
	}
}

func cancelPaymentHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, id, ok := callerAndId(c)
		if !ok {
			return
		}
		payment, err := models.CancelPayment(c.Request.Context(), identity, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, payment)
	}
}

// Ops tooling (admin only): re-queue an audit message that went FAILED or DEAD.
func outboxReplayHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, id, ok := callerAndId(c)
		if !ok {
			return
		}
		rec, err := models.ReplayAuditOutbox(c.Request.Context(), identity, id)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"record_id":       rec.ID,
			"audit_event_id":  rec.AuditEventId,
			"publish_status":  rec.PublishStatus,
			"next_attempt_at": rec.NextAttemptAt,
		})
	}
}
