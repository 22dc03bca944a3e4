// Package store persists service configurations as one record file per
// service and upgrades records written by older releases on read.
package store
