// settings.go - Typed application settings.
//
// The settings table is a key-value store at the SQL level, but callers only
// ever see this typed record. The master secret hash shares the table and is
// deliberately excluded here; it is reachable only through Identity.
package engine

import "context"

const (
	settingExportFolder = "export_folder_path"
	settingBranchName   = "branch_name"
)

// GetSettings reads the typed configuration record.
func GetSettings(ctx context.Context, s Store) (Settings, error) {
	var out Settings
	v, _, err := s.GetSetting(ctx, settingExportFolder)
	if err != nil {
		return out, err
	}
	out.ExportFolderPath = v
	v, _, err = s.GetSetting(ctx, settingBranchName)
	if err != nil {
		return out, err
	}
	out.BranchName = v
	return out, nil
}

// SettingsUpdate carries optional new values; nil fields are left untouched.
type SettingsUpdate struct {
	ExportFolderPath *string
	BranchName       *string
}

// UpdateSettings applies the update atomically. Admin only.
func UpdateSettings(ctx context.Context, s Store, upd SettingsUpdate, actor Actor) error {
	if err := requireCapability(actor, ActionManageUsers); err != nil {
		return err
	}
	return s.WithTx(ctx, func(tx Store) error {
		if upd.ExportFolderPath != nil {
			if err := tx.SetSetting(ctx, settingExportFolder, *upd.ExportFolderPath); err != nil {
				return err
			}
		}
		if upd.BranchName != nil {
			if err := tx.SetSetting(ctx, settingBranchName, *upd.BranchName); err != nil {
				return err
			}
		}
		return nil
	})
}
