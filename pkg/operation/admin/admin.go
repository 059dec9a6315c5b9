// Package admin provides MCP tools for administering tenant installations.
package admin

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mermaidchart/confluence-connect/pkg/core"
	"github.com/mark3labs/mcp-go/mcp"
)

// installationSummary is the safe view of an installation for listing;
// shared secrets never leave the store through this tool.
type installationSummary struct {
	ClientKey      string    `json:"clientKey"`
	BaseURL        string    `json:"baseUrl,omitempty"`
	ProductType    string    `json:"productType,omitempty"`
	InstallationID string    `json:"installationId,omitempty"`
	InstalledAt    time.Time `json:"installedAt"`
}

// ListInstallationsTool defines the MCP tool for listing all tenant installations.
var ListInstallationsTool = mcp.NewTool("list_installations",
	mcp.WithDescription("List all tenant installations"),
)

// HandleListInstallationsTool is an MCP tool handler that enumerates every
// tenant's installation record from the store and returns a redacted summary.
func HandleListInstallationsTool(
	ctx context.Context,
	_ mcp.CallToolRequest,
) (*mcp.CallToolResult, error) {
	logger := core.LoggerFromCtx(ctx)
	logger.Info("Handling list_installations tool")

	store, err := core.StoreFromContext(ctx)
	if err != nil {
		logger.Error("Missing store from context", "error", err)
		return nil, err
	}

	installations, err := store.ListInstallations(ctx)
	if err != nil {
		logger.Error("Failed to list installations from store", "error", err)
		return nil, err
	}

	summaries := make([]installationSummary, 0, len(installations))
	for _, inst := range installations {
		summaries = append(summaries, installationSummary{
			ClientKey:      inst.ClientKey,
			BaseURL:        inst.BaseURL,
			ProductType:    inst.ProductType,
			InstallationID: inst.InstallationID,
			InstalledAt:    inst.InstalledAt,
		})
	}

	data, err := json.Marshal(summaries)
	if err != nil {
		logger.Error("Failed to marshal installations to JSON", "error", err)
		return nil, err
	}

	logger.Info("Successfully listed installations", "count", len(summaries))
	return mcp.NewToolResultText(string(data)), nil
}
