// Package goextensions resolves plugin extensions for a host application.
//
// Plugins declare extensions in a manifest: typed records whose properties
// may reference plugin code through {"$codeRef": "module.export"} values.
// The host narrows records by type with a Predicate, fetches referenced
// code lazily from each plugin's container and feeds plugin hooks into
// host-owned state without letting a failing plugin take the host down.
//
// Key Features:
//   - Type-safe predicates narrowing records to Extension[P] using generics
//   - Lazy, deduplicated code fetching from static, HTTP and gRPC containers
//   - Feature flag gating of extensions, with flags computed from plugins
//   - Per-extension fault isolation with dismissable runtime faults
//   - Status aggregation with periodic pollers
//   - Manifest hot reload, Prometheus metrics and an argus audit trail
//
// Basic Usage:
//
//	host, err := goextensions.NewHost(goextensions.DefaultHostConfig(),
//		goextensions.WithLogger(goextensions.NewLogrusLogger(logrus.New())))
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	core := goextensions.NewStaticContainer()
//	core.Register("pages", goextensions.Module{"Overview": overviewPage})
//	host.RegisterStaticContainer("core", core)
//
//	if err := host.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer host.Shutdown(ctx)
//
//	resolved, ok, err := goextensions.ResolveExtensions(ctx, host.Resolver(), goextensions.IsRoute)
//
// Failures:
// Fetch failures surface as remote load failures (reload to recover),
// panics and errors raised by plugin hooks as runtime faults (dismissable),
// and records whose properties do not fit the narrowed type as contract
// mismatches, which are excluded from results. NoticeFor maps each to its
// user-facing notice.
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package goextensions
