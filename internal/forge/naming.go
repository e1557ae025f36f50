package forge

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/catherinevee/driftcert/internal/models"
)

// BranchName builds a timestamped branch name:
// {golden|drift}_{env}_{YYYYMMDD_HHMMSS}_{6-hex}
func BranchName(branchType models.BranchType, environment string) string {
	suffix := strings.ReplaceAll(uuid.New().String(), "-", "")[:6]
	return fmt.Sprintf("%s_%s_%s_%s",
		branchType, environment, time.Now().UTC().Format("20060102_150405"), suffix)
}
