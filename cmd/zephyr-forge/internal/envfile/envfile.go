// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package envfile writes and validates the .env files the Zephyr apps read.
//
// Two files are managed, both relative to the project root:
//
//	apps/web/.env      everything the web app needs (database, cache, object
//	                   store, auth and public URLs)
//	packages/db/.env   the Prisma connection strings
//
// Values that point at the development stack come from registry.Config so
// ports and credentials stay in one place.
package envfile

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/parazeeknova/zephyr-forge/cmd/zephyr-forge/internal/registry"
)

// Paths of the managed files relative to the project root.
var (
	WebPath = filepath.Join("apps", "web", ".env")
	DBPath  = filepath.Join("packages", "db", ".env")
)

// =============================================================================
// Values
// =============================================================================

// Values are the inputs to both files.
type Values struct {
	PostgresUser     string `validate:"required"`
	PostgresPassword string `validate:"required"`
	PostgresDB       string `validate:"required"`
	PostgresHost     string `validate:"required"`
	PostgresPort     int    `validate:"min=1,max=65535"`

	RedisPassword string `validate:"required"`
	RedisHost     string `validate:"required"`
	RedisPort     int    `validate:"min=1,max=65535"`

	MinIORootUser     string `validate:"required"`
	MinIORootPassword string `validate:"required,min=8"`
	MinIOBucket       string `validate:"required"`
	MinIOHost         string `validate:"required"`
	MinIOPort         int    `validate:"min=1,max=65535"`
	MinIOConsolePort  int    `validate:"min=1,max=65535"`

	// JWTSecret is generated when empty.
	JWTSecret string

	WebPort int    `validate:"min=1,max=65535"`
	NodeEnv string `validate:"oneof=development production"`
}

// DefaultValues returns the development defaults.
func DefaultValues() Values {
	return FromRegistry(registry.DefaultConfig())
}

// FromRegistry derives Values from the stack configuration.
func FromRegistry(cfg registry.Config) Values {
	return Values{
		PostgresUser:      cfg.Postgres.User,
		PostgresPassword:  cfg.Postgres.Password,
		PostgresDB:        cfg.Postgres.Database,
		PostgresHost:      cfg.Host,
		PostgresPort:      cfg.Postgres.Port,
		RedisPassword:     cfg.Redis.Password,
		RedisHost:         cfg.Host,
		RedisPort:         cfg.Redis.Port,
		MinIORootUser:     "minioadmin",
		MinIORootPassword: "minioadmin",
		MinIOBucket:       "uploads",
		MinIOHost:         cfg.Host,
		MinIOPort:         cfg.MinIO.Port,
		MinIOConsolePort:  cfg.MinIO.ConsolePort,
		WebPort:           3000,
		NodeEnv:           "development",
	}
}

// NewSecret returns 32 random bytes, hex encoded.
func NewSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// DatabaseURL returns the postgresql:// URL, with query appended when set.
func (v Values) DatabaseURL(query string) string {
	u := url.URL{
		Scheme:   "postgresql",
		User:     url.UserPassword(v.PostgresUser, v.PostgresPassword),
		Host:     hostPort(v.PostgresHost, v.PostgresPort),
		Path:     "/" + v.PostgresDB,
		RawQuery: query,
	}
	return u.String()
}

// RedisURL returns the redis:// URL for database 0.
func (v Values) RedisURL() string {
	u := url.URL{
		Scheme: "redis",
		User:   url.UserPassword("", v.RedisPassword),
		Host:   hostPort(v.RedisHost, v.RedisPort),
		Path:   "/0",
	}
	return u.String()
}

// MinIOEndpoint returns the S3 API base URL.
func (v Values) MinIOEndpoint() string {
	return "http://" + hostPort(v.MinIOHost, v.MinIOPort)
}

// =============================================================================
// Entries
// =============================================================================

// Entry is one KEY=value line.
type Entry struct {
	Key   string
	Value string

	// Sensitive entries are redacted in previews.
	Sensitive bool
}

// String returns KEY=value.
func (e Entry) String() string {
	return e.Key + "=" + e.Value
}

// Redacted returns KEY=[REDACTED] for sensitive entries, otherwise String.
func (e Entry) Redacted() string {
	if e.Sensitive {
		return e.Key + "=[REDACTED]"
	}
	return e.String()
}

// Section is a commented group of entries.
type Section struct {
	Title   string
	Entries []Entry
}

// File is one managed .env file.
type File struct {
	// Name is "web" or "db".
	Name string

	// Path is relative to the project root.
	Path string

	Sections []Section
}

// Render returns the file contents.
func (f File) Render() []byte {
	return f.render(Entry.String)
}

// Preview returns the contents with sensitive values redacted.
func (f File) Preview() string {
	return string(f.render(Entry.Redacted))
}

// Map returns every entry keyed by name.
func (f File) Map() map[string]string {
	out := make(map[string]string)
	for _, s := range f.Sections {
		for _, e := range s.Entries {
			out[e.Key] = e.Value
		}
	}
	return out
}

func (f File) render(line func(Entry) string) []byte {
	var b strings.Builder
	for i, s := range f.Sections {
		if i > 0 {
			b.WriteString("\n")
		}
		if s.Title != "" {
			b.WriteString("# " + s.Title + "\n")
		}
		for _, e := range s.Entries {
			b.WriteString(line(e))
			b.WriteString("\n")
		}
	}
	return []byte(b.String())
}

// WebFile builds apps/web/.env.
func WebFile(v Values) File {
	prismaURL := v.DatabaseURL("schema=public")
	site := "http://localhost:" + strconv.Itoa(v.WebPort)

	return File{
		Name: "web",
		Path: WebPath,
		Sections: []Section{
			{Title: "Database", Entries: []Entry{
				{Key: "POSTGRES_USER", Value: v.PostgresUser},
				{Key: "POSTGRES_PASSWORD", Value: v.PostgresPassword, Sensitive: true},
				{Key: "POSTGRES_DB", Value: v.PostgresDB},
				{Key: "POSTGRES_PORT", Value: strconv.Itoa(v.PostgresPort)},
				{Key: "POSTGRES_HOST", Value: v.PostgresHost},
				{Key: "DATABASE_URL", Value: prismaURL, Sensitive: true},
				{Key: "POSTGRES_PRISMA_URL", Value: prismaURL, Sensitive: true},
				{Key: "POSTGRES_URL_NON_POOLING", Value: prismaURL, Sensitive: true},
			}},
			{Title: "Redis", Entries: []Entry{
				{Key: "REDIS_PASSWORD", Value: v.RedisPassword, Sensitive: true},
				{Key: "REDIS_PORT", Value: strconv.Itoa(v.RedisPort)},
				{Key: "REDIS_HOST", Value: v.RedisHost},
				{Key: "REDIS_URL", Value: v.RedisURL(), Sensitive: true},
			}},
			{Title: "MinIO", Entries: []Entry{
				{Key: "MINIO_ROOT_USER", Value: v.MinIORootUser},
				{Key: "MINIO_ROOT_PASSWORD", Value: v.MinIORootPassword, Sensitive: true},
				{Key: "MINIO_BUCKET_NAME", Value: v.MinIOBucket},
				{Key: "MINIO_PORT", Value: strconv.Itoa(v.MinIOPort)},
				{Key: "MINIO_CONSOLE_PORT", Value: strconv.Itoa(v.MinIOConsolePort)},
				{Key: "MINIO_HOST", Value: v.MinIOHost},
				{Key: "MINIO_ENDPOINT", Value: v.MinIOEndpoint()},
				{Key: "NEXT_PUBLIC_MINIO_ENDPOINT", Value: "http://localhost:" + strconv.Itoa(v.MinIOPort)},
				{Key: "MINIO_ENABLE_OBJECT_LOCKING", Value: "on"},
			}},
			{Title: "Application", Entries: []Entry{
				{Key: "JWT_SECRET", Value: v.JWTSecret, Sensitive: true},
				{Key: "JWT_EXPIRES_IN", Value: "7d"},
				{Key: "NEXT_PUBLIC_PORT", Value: strconv.Itoa(v.WebPort)},
				{Key: "NEXT_PUBLIC_URL", Value: site},
				{Key: "NEXT_PUBLIC_SITE_URL", Value: site},
			}},
			{Title: "Misc", Entries: []Entry{
				{Key: "NODE_ENV", Value: v.NodeEnv},
				{Key: "NEXT_TELEMETRY_DISABLED", Value: "1"},
				{Key: "TURBO_TELEMETRY_DISABLED", Value: "1"},
			}},
		},
	}
}

// DBFile builds packages/db/.env.
func DBFile(v Values) File {
	dbURL := v.DatabaseURL("")

	return File{
		Name: "db",
		Path: DBPath,
		Sections: []Section{
			{Title: "Database URLs for Prisma", Entries: []Entry{
				{Key: "DATABASE_URL", Value: dbURL, Sensitive: true},
				{Key: "POSTGRES_PRISMA_URL", Value: dbURL, Sensitive: true},
				{Key: "POSTGRES_URL_NON_POOLING", Value: dbURL, Sensitive: true},
			}},
			{Title: "Database Configuration", Entries: []Entry{
				{Key: "POSTGRES_USER", Value: v.PostgresUser},
				{Key: "POSTGRES_PASSWORD", Value: v.PostgresPassword, Sensitive: true},
				{Key: "POSTGRES_DB", Value: v.PostgresDB},
				{Key: "POSTGRES_PORT", Value: strconv.Itoa(v.PostgresPort)},
				{Key: "POSTGRES_HOST", Value: v.PostgresHost},
			}},
		},
	}
}

// Files returns both managed files for v.
func Files(v Values) []File {
	return []File{WebFile(v), DBFile(v)}
}

func hostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
