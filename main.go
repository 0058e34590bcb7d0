// Package main is the entry point for the Technitium device presence backend.
package main

import (
	"technitium-dhcp-backend/pkg/logger"
	"technitium-dhcp-backend/pkg/uibackend"
)

func main() {
	logger := logger.NewCustomLogger("presence-backend")

	logger.Info("Device presence backend starting")

	ui := uibackend.NewUIBackend(logger)
	_ = ui.ListenAndServe()
}
