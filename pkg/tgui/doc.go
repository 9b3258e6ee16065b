// Package tgui holds small helpers for Telegram HTML replies:
// escaping builders, rune-safe truncation and 1-based pagination with an
// inline navigation row.
package tgui
