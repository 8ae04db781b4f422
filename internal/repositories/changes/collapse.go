package changes

import "github.com/personalizedrefrigerator/notesync/internal/models"

// Collapse reduces a push window to the net change per item. Multiple entries
// for one item fold into a single entry carrying the latest change type, with
// two exceptions:
//
//   - a Create followed by a Delete for an item that was never pushed to the
//     remote collapses to nothing (the remote never saw it);
//   - a Delete is terminal and overrides any Update in the window.
//
// everSynced reports whether the remote already has the item (a SyncState row
// exists). Output order follows each item's last entry in the window.
func Collapse(window []models.ItemChange, everSynced func(itemID string) bool) []models.ItemChange {
	type group struct {
		first models.ItemChange
		last  models.ItemChange
	}

	groups := make(map[string]*group)
	var order []string
	for _, c := range window {
		g, ok := groups[c.ItemID]
		if !ok {
			groups[c.ItemID] = &group{first: c, last: c}
			order = append(order, c.ItemID)
			continue
		}
		g.last = c
	}

	var out []models.ItemChange
	for _, id := range order {
		g := groups[id]

		net := g.last
		if g.last.Type == models.ChangeTypeDelete {
			if g.first.Type == models.ChangeTypeCreate && !everSynced(id) {
				continue
			}
		} else if g.first.Type == models.ChangeTypeCreate {
			// created and still alive in this window: the remote sees one create
			net.Type = models.ChangeTypeCreate
		}
		out = append(out, net)
	}
	return out
}
