// Package tgui provides small helpers for building Telegram HTML text.
//
// Values of type H are already escaped; build them with Esc and the tag
// helpers so user-supplied strings can never break the markup.
package tgui
