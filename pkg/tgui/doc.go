// Package tgui provides small chat UI helpers:
//   - Inline keyboard builders
//   - A message builder with HTML escaping
//   - Paging and a TTL store for lists rendered to a chat
package tgui
