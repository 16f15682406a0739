package main

// Provider blank imports. Each import activates a self-registering
// notifier adapter; add new providers here as they are implemented.

import (
	_ "github.com/civicforge/civicforge/internal/adapter/discord"
	_ "github.com/civicforge/civicforge/internal/adapter/slack"
)
