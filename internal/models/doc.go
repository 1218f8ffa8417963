// Package models defines the catalog entities, job records and external DTOs for crate.
//
// The package contains two categories of types:
//
// 1. Data Transfer Objects (DTOs): lightweight structs describing data returned by external services
//   - [SavedAlbum] : an album saved in the streaming library
//   - [ReleaseGroup] : a metadata-search candidate with its relevance score
//   - [QueueItem] / [LidarrAlbum] : download-automation queue entries and album lookups
//
// 2. Persistent Entities: database-backed records
//   - [Artist] / [Album] : catalog entries; albums carry ownership, acquisition and match state
//   - [DownloadRequest] : an automated acquisition attempt for one album
//   - [Job] : a unit of orchestrated background work
//   - [SyncSettings] : the process-wide settings singleton
//
// Enumerations are closed string types with a Valid method; persistent entities expose Validate,
// which enforces the cross-field invariants the database CHECK constraints also guard.
package models
