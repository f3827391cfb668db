// Package checkpoint remembers which date window was last appended to a
// worksheet, so a second run on the same day can skip the append instead of
// duplicating refund rows.
//
// Checkpoints are stored in platform-specific data directories:
//   - Linux: ~/.local/share/klarnaparser/checkpoints/
//   - macOS: ~/Library/Application Support/klarnaparser/checkpoints/
//   - Windows: %APPDATA%/klarnaparser/checkpoints/
//
// The checkpoint files are saved atomically to prevent corruption and include
// versioning for future compatibility.
package checkpoint
