// Package tenant keeps every query issued on behalf of a user inside that user's tenant.
package tenant

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
)

// Column is the foreign key carried by every tenant-owned row.
const Column = "tenant_id"

var (
	ErrMissingTenant = errors.New("missing_tenant_id")
	ErrInvalidAlias  = errors.New("invalid_table_alias")
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// ScopeQuery appends "AND [alias.]tenant_id = $N" to query and tenantID to args.
// The query must already end in a boolean context (a WHERE clause) that can take an AND.
// N is the next positional placeholder after args.
func ScopeQuery(query string, args []any, tenantID, alias string) (string, []any, error) {
	if strings.TrimSpace(tenantID) == "" {
		return "", nil, ErrMissingTenant
	}
	column, err := qualifiedColumn(alias)
	if err != nil {
		return "", nil, err
	}

	scoped := make([]any, len(args), len(args)+1)
	copy(scoped, args)
	scoped = append(scoped, tenantID)

	base := strings.TrimRight(query, " \t\r\n;")
	return fmt.Sprintf("%s AND %s = $%d", base, column, len(scoped)), scoped, nil
}

func qualifiedColumn(alias string) (string, error) {
	if alias == "" {
		return Column, nil
	}
	if !identifierPattern.MatchString(alias) {
		return "", ErrInvalidAlias
	}
	return pgx.Identifier{alias, Column}.Sanitize(), nil
}
