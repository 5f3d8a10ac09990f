// SPDX-License-Identifier: MPL-2.0

// Package issue provides structured, user-facing errors for the CLI layer.
//
// An ActionableError tells the user what operation failed, which file or
// entity was involved, and what to try next. Internal packages return plain
// wrapped errors; the boundary toward the user (command handlers, config and
// gin loading) upgrades them to actionable ones.
package issue
