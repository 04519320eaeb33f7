// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package envfile

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/compose-spec/compose-go/v2/dotenv"
	"github.com/go-playground/validator/v10"
)

// Schema maps each key to a validator tag.
type Schema struct {
	Rules map[string]string

	// Defaults fill keys that are absent from the file.
	Defaults map[string]string
}

// WebSchema is what the web app requires.
func WebSchema() Schema {
	return Schema{
		Rules: map[string]string{
			"POSTGRES_USER":       "required",
			"POSTGRES_PASSWORD":   "required",
			"POSTGRES_DB":         "required",
			"POSTGRES_PORT":       "required,numeric",
			"POSTGRES_HOST":       "required",
			"DATABASE_URL":        "required,url",
			"REDIS_PASSWORD":      "required",
			"REDIS_PORT":          "required,numeric",
			"REDIS_HOST":          "required",
			"MINIO_ROOT_USER":     "required",
			"MINIO_ROOT_PASSWORD": "required",
			"MINIO_BUCKET_NAME":   "required",
			"MINIO_PORT":          "required,numeric",
			"MINIO_CONSOLE_PORT":  "required,numeric",
			"JWT_SECRET":          "required",
			"NODE_ENV":            "oneof=development production",
		},
		Defaults: map[string]string{
			"POSTGRES_PORT":      "5433",
			"POSTGRES_HOST":      "localhost",
			"REDIS_PORT":         "6379",
			"REDIS_HOST":         "localhost",
			"MINIO_BUCKET_NAME":  "uploads",
			"MINIO_PORT":         "9000",
			"MINIO_CONSOLE_PORT": "9001",
			"NODE_ENV":           "development",
		},
	}
}

// DBSchema is what Prisma requires.
func DBSchema() Schema {
	return Schema{
		Rules: map[string]string{
			"DATABASE_URL":      "required,url",
			"POSTGRES_USER":     "required",
			"POSTGRES_PASSWORD": "required",
			"POSTGRES_DB":       "required",
		},
	}
}

// Problem is one failed rule.
type Problem struct {
	Key string

	// Rule is the validator tag that failed, empty for read errors.
	Rule    string
	Message string
}

func (p Problem) String() string {
	if p.Key == "" {
		return p.Message
	}
	return p.Key + " " + p.Message
}

// FileReport is the outcome for one file.
type FileReport struct {
	Name     string
	Path     string
	Missing  bool
	Problems []Problem
}

// Valid reports whether the file exists and passed every rule.
func (f FileReport) Valid() bool {
	return !f.Missing && len(f.Problems) == 0
}

// Report is the outcome of Check.
type Report struct {
	Files []FileReport
}

// Valid reports whether every file is valid.
func (r *Report) Valid() bool {
	for _, f := range r.Files {
		if !f.Valid() {
			return false
		}
	}
	return true
}

// Check reads both env files below root and validates them.
func Check(root string) *Report {
	return &Report{Files: []FileReport{
		CheckFile("web", filepath.Join(root, WebPath), WebSchema()),
		CheckFile("db", filepath.Join(root, DBPath), DBSchema()),
	}}
}

// CheckFile parses path as a dotenv file and validates it against schema.
// Problems are sorted by key.
func CheckFile(name, path string, schema Schema) FileReport {
	report := FileReport{Name: name, Path: path}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		report.Missing = true
		report.Problems = []Problem{{Message: "file not found"}}
		return report
	}

	env, err := dotenv.Read(path)
	if err != nil {
		report.Problems = []Problem{{Message: fmt.Sprintf("parse: %v", err)}}
		return report
	}

	report.Problems = Validate(env, schema)
	return report
}

// Validate applies schema to env.
func Validate(env map[string]string, schema Schema) []Problem {
	data := make(map[string]interface{}, len(schema.Rules))
	rules := make(map[string]interface{}, len(schema.Rules))
	for key, rule := range schema.Rules {
		value, ok := env[key]
		if !ok || value == "" {
			value = schema.Defaults[key]
		}
		data[key] = value
		rules[key] = rule
	}

	var problems []Problem
	for key, err := range validate.ValidateMap(data, rules) {
		var verrs validator.ValidationErrors
		if e, ok := err.(error); ok && errors.As(e, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			problems = append(problems, Problem{Key: key, Rule: fe.Tag(), Message: describe(fe)})
			continue
		}
		problems = append(problems, Problem{Key: key, Message: fmt.Sprint(err)})
	}

	sort.Slice(problems, func(i, j int) bool { return problems[i].Key < problems[j].Key })
	return problems
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "url":
		return "must be a valid URL"
	case "numeric":
		return "must be a number"
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "failed " + fe.Tag()
	}
}
