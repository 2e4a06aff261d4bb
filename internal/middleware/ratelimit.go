package middleware

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
)

// RateLimitConfig holds rate limiting settings
type RateLimitConfig struct {
	// Global limits (per IP)
	GlobalAPIMax        int
	GlobalAPIExpiration time.Duration

	// Task mutation limits (per user ID)
	MutationMax        int
	MutationExpiration time.Duration

	// Export limits (per user ID) - workbook generation is the heaviest request
	ExportMax        int
	ExportExpiration time.Duration
}

// DefaultRateLimitConfig returns production-safe defaults
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		GlobalAPIMax:        300,
		GlobalAPIExpiration: 1 * time.Minute,

		MutationMax:        120,
		MutationExpiration: 1 * time.Minute,

		ExportMax:        10,
		ExportExpiration: 1 * time.Minute,
	}
}

// LoadRateLimitConfig loads config from environment variables with defaults
func LoadRateLimitConfig(environment string) *RateLimitConfig {
	config := DefaultRateLimitConfig()

	if v := os.Getenv("RATE_LIMIT_GLOBAL_API"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.GlobalAPIMax = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_MUTATIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MutationMax = n
		}
	}

	if v := os.Getenv("RATE_LIMIT_EXPORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.ExportMax = n
		}
	}

	// Development mode: more lenient limits
	if environment == "development" {
		config.GlobalAPIMax = 1000
		config.MutationMax = 1000
		log.Println("⚠️  [RATE-LIMIT] Development mode: using relaxed rate limits")
	}

	return config
}

// GlobalAPIRateLimiter creates a rate limiter for all API requests
func GlobalAPIRateLimiter(config *RateLimitConfig) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        config.GlobalAPIMax,
		Expiration: config.GlobalAPIExpiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			return "global:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("🚫 [RATE-LIMIT] Global limit reached for IP: %s", c.IP())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       "Too many requests. Please slow down.",
				"retry_after": int(config.GlobalAPIExpiration.Seconds()),
			})
		},
	})
}

// MutationRateLimiter limits task writes per user
func MutationRateLimiter(config *RateLimitConfig) fiber.Handler {
	return userLimiter("mutation", config.MutationMax, config.MutationExpiration,
		"Too many changes. Please wait before trying again.")
}

// ExportRateLimiter limits workbook exports per user
func ExportRateLimiter(config *RateLimitConfig) fiber.Handler {
	return userLimiter("export", config.ExportMax, config.ExportExpiration,
		"Export rate limit reached. Please wait before exporting again.")
}

func userLimiter(name string, max int, expiration time.Duration, message string) fiber.Handler {
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: expiration,
		KeyGenerator: func(c *fiber.Ctx) string {
			// Use user ID if available, fall back to IP
			if userID := UserIDFromContext(c); userID != "" {
				return name + ":" + userID
			}
			return name + "-ip:" + c.IP()
		},
		LimitReached: func(c *fiber.Ctx) error {
			log.Printf("⚠️  [RATE-LIMIT] %s limit reached for user: %s on %s", name, UserIDFromContext(c), c.Path())
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error":       message,
				"retry_after": int(expiration.Seconds()),
			})
		},
	})
}
