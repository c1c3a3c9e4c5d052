/*
 * Copyright (c) 2023-present unTill Software Development Group B.V.
 * @author Maxim Geraskin
 */

package skeleton

import "strings"

// TreeDirBone references a directory node of a tree module. Tree modules
// keep their root nodes in a «module_rootNode» collection, the suffix is
// appended here when the declaration names just the module.
type TreeDirBone struct {
	RelationalBone
}

func (b *TreeDirBone) prepare(schemaKind, name string) {
	if b.Kind != "" && !strings.HasSuffix(b.Kind, TreeDirKindSuffix) {
		b.Kind += TreeDirKindSuffix
	}
	if b.Module == "" {
		b.Module = strings.TrimSuffix(b.Kind, TreeDirKindSuffix)
	}
	b.RelationalBone.prepare(schemaKind, name)
}
