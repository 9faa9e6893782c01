package controllers

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/BeanCounter/internal/pkg/loyalty"
)

// LoyaltyController exposes the loyalty engine over HTTP.
type LoyaltyController struct {
	engine   *loyalty.Engine
	validate *validator.Validate
}

func NewLoyaltyController(engine *loyalty.Engine) *LoyaltyController {
	return &LoyaltyController{engine: engine, validate: validator.New()}
}

type ensureCustomerRequest struct {
	ID       string `json:"id" validate:"required,max=64"`
	Timezone string `json:"timezone" validate:"omitempty,timezone"`
	// Birthday is month and day as MM-DD.
	Birthday string `json:"birthday" validate:"omitempty,len=5"`
}

type recordOrderRequest struct {
	Amount     int64      `json:"amount" validate:"gte=0"`
	FoodAmount int64      `json:"food_amount" validate:"gte=0,ltefield=Amount"`
	OccurredAt *time.Time `json:"occurred_at"`
}

type priceOrderRequest struct {
	OrderTotal int64 `json:"order_total" validate:"gte=0"`
	FoodTotal  int64 `json:"food_total" validate:"gte=0,ltefield=OrderTotal"`
}

type activateSubscriptionRequest struct {
	AutoRenew *bool `json:"auto_renew"`
}

// HandleEnsureCustomer creates or updates a customer profile.
func (lc *LoyaltyController) HandleEnsureCustomer(c *fiber.Ctx) error {
	var req ensureCustomerRequest
	if err := lc.parse(c, &req); err != nil {
		return respondError(c, err)
	}
	month, day, err := parseBirthday(req.Birthday)
	if err != nil {
		return respondError(c, err)
	}

	customer, err := lc.engine.EnsureCustomer(c.UserContext(), loyalty.CustomerProfile{
		ID:         req.ID,
		Timezone:   req.Timezone,
		BirthMonth: month,
		BirthDay:   day,
	})
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusOK).JSON(customer)
}

// HandleDeactivateCustomer deactivates a customer.
func (lc *LoyaltyController) HandleDeactivateCustomer(c *fiber.Ctx) error {
	if err := lc.engine.DeactivateCustomer(c.UserContext(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// HandleGetStatus returns the customer's loyalty status.
func (lc *LoyaltyController) HandleGetStatus(c *fiber.Ctx) error {
	status, err := lc.engine.GetStatus(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(status)
}

// HandleRecordOrder records a completed order.
func (lc *LoyaltyController) HandleRecordOrder(c *fiber.Ctx) error {
	var req recordOrderRequest
	if err := lc.parse(c, &req); err != nil {
		return respondError(c, err)
	}
	var at time.Time
	if req.OccurredAt != nil {
		at = *req.OccurredAt
	}

	record, err := lc.engine.RecordOrder(c.UserContext(), c.Params("id"), req.Amount, req.FoodAmount, at)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(record)
}

// HandlePriceOrder quotes the discount for an order without recording it.
func (lc *LoyaltyController) HandlePriceOrder(c *fiber.Ctx) error {
	var req priceOrderRequest
	if err := lc.parse(c, &req); err != nil {
		return respondError(c, err)
	}

	quote, err := lc.engine.QuoteOrder(c.UserContext(), c.Params("id"), req.OrderTotal, req.FoodTotal)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(quote)
}

// HandleRedeemFreeItem attempts a free-item redemption. Denials are regular
// responses carrying the outcome.
func (lc *LoyaltyController) HandleRedeemFreeItem(c *fiber.Ctx) error {
	result, err := lc.engine.RedeemFreeItem(c.UserContext(), c.Params("id"), time.Time{})
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(result)
}

// HandleActivateSubscription starts a premium subscription. Auto-renewal
// defaults to on.
func (lc *LoyaltyController) HandleActivateSubscription(c *fiber.Ctx) error {
	var req activateSubscriptionRequest
	if len(c.Body()) > 0 {
		if err := lc.parse(c, &req); err != nil {
			return respondError(c, err)
		}
	}
	autoRenew := true
	if req.AutoRenew != nil {
		autoRenew = *req.AutoRenew
	}

	view, err := lc.engine.ActivateSubscription(c.UserContext(), c.Params("id"), autoRenew)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(view)
}

// HandleCancelSubscription stops auto-renewal.
func (lc *LoyaltyController) HandleCancelSubscription(c *fiber.Ctx) error {
	view, err := lc.engine.CancelSubscription(c.UserContext(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(view)
}

// HandlePaymentResult receives the payment provider's callback.
func (lc *LoyaltyController) HandlePaymentResult(c *fiber.Ctx) error {
	var req loyalty.PaymentResult
	if err := lc.parse(c, &req); err != nil {
		return respondError(c, err)
	}

	outcome, err := lc.engine.HandlePaymentResult(c.UserContext(), req)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(outcome)
}

// validationError reports the first field that failed struct validation.
type validationError struct {
	field string
	tag   string
}

func (e *validationError) Error() string {
	return fmt.Sprintf("%s failed on %s", e.field, e.tag)
}

// parse decodes and validates the request body.
func (lc *LoyaltyController) parse(c *fiber.Ctx, out interface{}) error {
	if err := c.BodyParser(out); err != nil {
		return fmt.Errorf("%w: invalid request body", loyalty.ErrInvalidInput)
	}
	if err := lc.validate.Struct(out); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &validationError{field: strings.ToLower(verrs[0].Field()), tag: verrs[0].Tag()}
		}
		return fmt.Errorf("%w: %v", loyalty.ErrInvalidInput, err)
	}
	return nil
}

func parseBirthday(raw string) (int, int, error) {
	if raw == "" {
		return 0, 0, nil
	}
	var month, day int
	if _, err := fmt.Sscanf(raw, "%d-%d", &month, &day); err != nil {
		return 0, 0, fmt.Errorf("%w: birthday must be MM-DD", loyalty.ErrInvalidInput)
	}
	return month, day, nil
}

// respondError maps engine errors to HTTP responses.
func respondError(c *fiber.Ctx, err error) error {
	status, code := fiber.StatusInternalServerError, "internal_server_error"
	var verr *validationError
	switch {
	case errors.As(err, &verr):
		status, code = fiber.StatusUnprocessableEntity, "validation_failed"
	case errors.Is(err, loyalty.ErrInvalidInput):
		status, code = fiber.StatusBadRequest, "bad_request"
	case errors.Is(err, loyalty.ErrCustomerNotFound):
		status, code = fiber.StatusNotFound, "customer_not_found"
	case errors.Is(err, loyalty.ErrNoSubscription):
		status, code = fiber.StatusNotFound, "no_subscription"
	case errors.Is(err, loyalty.ErrCustomerInactive):
		status, code = fiber.StatusConflict, "customer_inactive"
	case errors.Is(err, loyalty.ErrSubscriptionExists):
		status, code = fiber.StatusConflict, "subscription_exists"
	case errors.Is(err, loyalty.ErrTransientConflict):
		status, code = fiber.StatusServiceUnavailable, "transient_conflict"
	}
	if status == fiber.StatusInternalServerError {
		log.Errorf("[API] %s %s failed: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{"error": code, "message": "Internal error"})
	}
	return c.Status(status).JSON(fiber.Map{"error": code, "message": err.Error()})
}
