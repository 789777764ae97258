package http

import (
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"cherrycap/internal/agent"
)

// AgentSchemaAction returns the analytics schema for SQL-capable tools.
func AgentSchemaAction(ctx *cartridge.Context) error {
	if _, ok, resp := requireUser(ctx); !ok {
		return resp
	}

	schema, err := agent.GetSchema(ctx.DB())
	if err != nil {
		return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{
			"error": "Failed to read schema",
		})
	}
	return ctx.JSON(schema)
}

// AgentSQLAction executes a read-only SQL query against the analytics
// database. Validation rejects anything that is not a single SELECT.
func AgentSQLAction(ctx *cartridge.Context) error {
	if _, ok, resp := requireUser(ctx); !ok {
		return resp
	}

	var req agent.SQLRequest
	if err := ctx.BodyParser(&req); err != nil || strings.TrimSpace(req.SQL) == "" {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": "SQL query is required",
		})
	}

	result, err := agent.ExecuteQuery(ctx.Ctx.UserContext(), ctx.DB(), req.SQL, agent.QueryTimeout)
	if err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return ctx.JSON(result)
}
