// Package analytics_tools provides MCP tools over the mailbox analytics:
// get_email_stats, get_email_analytics, get_contacts and
// get_volume_trends.
//
// All of them fail with InvalidInput when analytics are disabled in the
// configuration.
package analytics_tools
