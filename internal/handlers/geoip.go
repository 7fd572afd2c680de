package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/proxguard/backend/internal/database"
	"github.com/proxguard/backend/internal/geoip"
	"github.com/proxguard/backend/internal/models"
)

// GeoIPHandler serves IP lookups and the classification registry CRUD.
type GeoIPHandler struct {
	resolver   *geoip.Resolver
	classifier *geoip.Classifier
}

func NewGeoIPHandler(resolver *geoip.Resolver, classifier *geoip.Classifier) *GeoIPHandler {
	return &GeoIPHandler{resolver: resolver, classifier: classifier}
}

// Lookup resolves one IP through the cascade.
func (h *GeoIPHandler) Lookup(c *fiber.Ctx) error {
	ip := c.Params("ip")

	meta, err := h.resolver.Lookup(c.Context(), ip)
	if err != nil {
		return badRequest(c, "Invalid IP address")
	}
	if meta == nil {
		return notFound(c, "IP could not be resolved")
	}

	return c.JSON(fiber.Map{
		"success": true,
		"data":    meta,
	})
}

// LookupBatch resolves many IPs at once.
func (h *GeoIPHandler) LookupBatch(c *fiber.Ctx) error {
	var body struct {
		IPs []string `json:"ips"`
	}
	if err := c.BodyParser(&body); err != nil || len(body.IPs) == 0 {
		return badRequest(c, "ips is required")
	}
	if len(body.IPs) > 500 {
		return badRequest(c, "Too many IPs, maximum is 500")
	}

	results := h.resolver.LookupBatch(c.Context(), body.IPs)
	return c.JSON(fiber.Map{
		"success": true,
		"data":    results,
	})
}

// ListOverrides returns the ASN override registry.
func (h *GeoIPHandler) ListOverrides(c *fiber.Ctx) error {
	var overrides []models.ASNOverride
	if err := database.DB.Order("asn ASC").Find(&overrides).Error; err != nil {
		return serverError(c, "Failed to list overrides")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    overrides,
	})
}

// CreateOverride adds one registry entry.
func (h *GeoIPHandler) CreateOverride(c *fiber.Ctx) error {
	var override models.ASNOverride
	if err := c.BodyParser(&override); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if override.ASN <= 0 || override.ProviderType == "" {
		return badRequest(c, "asn and provider_type are required")
	}

	override.ID = 0
	if err := database.DB.Create(&override).Error; err != nil {
		return badRequest(c, "Override already exists for this ASN and country")
	}

	h.classifier.Invalidate()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    override,
	})
}

// UpdateOverride modifies one registry entry.
func (h *GeoIPHandler) UpdateOverride(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badRequest(c, "Invalid override id")
	}

	var existing models.ASNOverride
	if err := database.DB.First(&existing, id).Error; err != nil {
		return notFound(c, "Override not found")
	}

	var body models.ASNOverride
	if err := c.BodyParser(&body); err != nil {
		return badRequest(c, "Invalid request body")
	}

	updates := map[string]interface{}{
		"organization":  body.Organization,
		"provider_type": body.ProviderType,
		"region":        body.Region,
		"city":          body.City,
		"country_code":  body.CountryCode,
		"is_active":     body.IsActive,
	}
	if err := database.DB.Model(&existing).Updates(updates).Error; err != nil {
		return serverError(c, "Failed to update override")
	}

	h.classifier.Invalidate()
	return c.JSON(fiber.Map{
		"success": true,
		"data":    existing,
	})
}

// DeleteOverride removes one registry entry.
func (h *GeoIPHandler) DeleteOverride(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badRequest(c, "Invalid override id")
	}

	result := database.DB.Delete(&models.ASNOverride{}, id)
	if result.Error != nil {
		return serverError(c, "Failed to delete override")
	}
	if result.RowsAffected == 0 {
		return notFound(c, "Override not found")
	}

	h.classifier.Invalidate()
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Override deleted",
	})
}

// ListRules returns the keyword ruleset in evaluation order.
func (h *GeoIPHandler) ListRules(c *fiber.Ctx) error {
	var rules []models.ClassifierRule
	if err := database.DB.Order("priority ASC, id ASC").Find(&rules).Error; err != nil {
		return serverError(c, "Failed to list rules")
	}
	return c.JSON(fiber.Map{
		"success": true,
		"data":    rules,
	})
}

// CreateRule adds one keyword rule.
func (h *GeoIPHandler) CreateRule(c *fiber.Ctx) error {
	var rule models.ClassifierRule
	if err := c.BodyParser(&rule); err != nil {
		return badRequest(c, "Invalid request body")
	}
	if rule.Pattern == "" || rule.Category == "" {
		return badRequest(c, "pattern and category are required")
	}
	switch rule.Category {
	case models.ConnectionTypeVPN, models.ConnectionTypeMobile, models.ConnectionTypeDatacenter:
	default:
		return badRequest(c, "category must be vpn, mobile or datacenter")
	}

	rule.ID = 0
	if rule.Priority <= 0 {
		rule.Priority = 100
	}
	if err := database.DB.Create(&rule).Error; err != nil {
		return serverError(c, "Failed to create rule")
	}

	h.classifier.Invalidate()
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"data":    rule,
	})
}

// DeleteRule removes one keyword rule.
func (h *GeoIPHandler) DeleteRule(c *fiber.Ctx) error {
	id, err := c.ParamsInt("id")
	if err != nil || id <= 0 {
		return badRequest(c, "Invalid rule id")
	}

	result := database.DB.Delete(&models.ClassifierRule{}, id)
	if result.Error != nil {
		return serverError(c, "Failed to delete rule")
	}
	if result.RowsAffected == 0 {
		return notFound(c, "Rule not found")
	}

	h.classifier.Invalidate()
	return c.JSON(fiber.Map{
		"success": true,
		"message": "Rule deleted",
	})
}
