// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package manager

import (
	"context"

	"github.com/aleutian-labs/memcore/internal/memory/lifecycle"
	"github.com/aleutian-labs/memcore/internal/memory/telemetry"
	"github.com/aleutian-labs/memcore/internal/memory/types"
)

// EvaluateMemoryLifecycle runs one lifecycle evaluation pass for userID
// on demand, outside the periodic schedule.
func (m *Manager) EvaluateMemoryLifecycle(ctx context.Context, userID string) lifecycle.Report {
	_, span := telemetry.Tracer.Start(ctx, "manager.EvaluateMemoryLifecycle")
	defer span.End()

	rep := m.lifecycleMgr.EvaluateUser(userID, types.NowMillis())
	telemetry.LifecycleTransitionsTotal.WithLabelValues("delete").Add(float64(rep.Deleted))
	telemetry.LifecycleTransitionsTotal.WithLabelValues("upgrade").Add(float64(rep.Upgraded))
	telemetry.LifecycleTransitionsTotal.WithLabelValues("downgrade").Add(float64(rep.Downgraded))
	telemetry.LifecycleTransitionsTotal.WithLabelValues("evict").Add(float64(rep.HardCapDeleted))
	return rep
}

// GetLifecycleStats reports the lifecycle outcome for every known user,
// running one evaluation pass per user.
func (m *Manager) GetLifecycleStats(ctx context.Context) map[string]lifecycle.Report {
	_, span := telemetry.Tracer.Start(ctx, "manager.GetLifecycleStats")
	defer span.End()
	return m.lifecycleMgr.EvaluateAllUsers(types.NowMillis())
}
