// SPDX-License-Identifier: MPL-2.0

// Package testutil provides helper functions for tests that handle errors
// appropriately, reducing boilerplate and ensuring consistent error handling.
//
// Helpers cover directory changes (MustChdir), resource cleanup (MustClose)
// and package fixture trees (WriteTree, WriteManifest).
package testutil
