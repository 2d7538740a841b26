// Package db provides embedded database schema and migration files.
package db

import _ "embed"

// OrderSchema contains the DDL for the order-service tables.
//
//go:embed migrations/001_orders.sql
var OrderSchema string

// NotificationSchema contains the DDL for the notification-service tables.
//
//go:embed migrations/002_notifications.sql
var NotificationSchema string
