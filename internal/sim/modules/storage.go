package modules

import (
	"fmt"
	"sort"

	"dynacraft.ai/internal/persistence/tagstore"
	"dynacraft.ai/internal/sim/defs"
	"dynacraft.ai/internal/sim/module"
)

// ItemStack is a count of one item kind.
type ItemStack struct {
	Item  string `json:"item"`
	Count int    `json:"count"`
}

func (s ItemStack) Empty() bool { return s.Item == "" || s.Count <= 0 }

// Inventory is the slot array of one storage part.
type Inventory struct {
	ID    uint8
	Slots []ItemStack
}

func (inv *Inventory) Size() int { return len(inv.Slots) }

// Put stores stack in slot, replacing what was there.
func (inv *Inventory) Put(slot int, stack ItemStack) error {
	if slot < 0 || slot >= len(inv.Slots) {
		return fmt.Errorf("slot %d out of range 0..%d", slot, len(inv.Slots)-1)
	}
	inv.Slots[slot] = stack
	return nil
}

func (inv *Inventory) Get(slot int) (ItemStack, bool) {
	if slot < 0 || slot >= len(inv.Slots) {
		return ItemStack{}, false
	}
	return inv.Slots[slot], true
}

// Dropper receives the content of destroyed storages.
type Dropper interface {
	DropItems(stacks []ItemStack)
}

// Storage holds one inventory per storage part of the definition.
type Storage struct {
	host Host
	invs map[uint8]*Inventory
}

func NewStorage(h Host) (*Storage, error) {
	return &Storage{host: h, invs: map[uint8]*Inventory{}}, nil
}

func (s *Storage) Capability() module.Capability { return CapStorage }
func (s *Storage) InitPriority() int             { return 0 }

func (s *Storage) InitProperties() error {
	def, err := definitionOf(s.host)
	if err != nil {
		return err
	}
	return s.DefinitionReloaded(def)
}

// DefinitionReloaded keeps inventories whose part still exists, resized to
// the new slot count, adds new parts and drops removed ones.
func (s *Storage) DefinitionReloaded(def *defs.Definition) error {
	if len(def.Storages) == 0 {
		return fmt.Errorf("definition %s has no storages", def.Name)
	}
	keep := map[uint8]bool{}
	var dropped []ItemStack
	for _, part := range def.Storages {
		keep[part.ID] = true
		inv, ok := s.invs[part.ID]
		if !ok {
			s.invs[part.ID] = &Inventory{ID: part.ID, Slots: make([]ItemStack, part.Size)}
			continue
		}
		if len(inv.Slots) > part.Size {
			dropped = append(dropped, nonEmpty(inv.Slots[part.Size:])...)
			inv.Slots = inv.Slots[:part.Size]
		} else if len(inv.Slots) < part.Size {
			inv.Slots = append(inv.Slots, make([]ItemStack, part.Size-len(inv.Slots))...)
		}
	}
	for _, id := range s.IDs() {
		if !keep[id] {
			dropped = append(dropped, nonEmpty(s.invs[id].Slots)...)
			delete(s.invs, id)
		}
	}
	s.drop(dropped)
	return nil
}

func (s *Storage) Inventory(id uint8) (*Inventory, bool) {
	inv, ok := s.invs[id]
	return inv, ok
}

// IDs lists the storage part ids in ascending order.
func (s *Storage) IDs() []uint8 {
	out := make([]uint8, 0, len(s.invs))
	for id := range s.invs {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (s *Storage) WriteState(tag tagstore.Tag) {
	ids := s.IDs()
	tag.SetInt("StorageCount", int64(len(ids)))
	for j, id := range ids {
		inv := s.invs[id]
		t := tagstore.NewTag()
		t.SetInt("id", int64(id))
		t.SetInt("size", int64(len(inv.Slots)))
		slots := tagstore.NewTag()
		for k, st := range inv.Slots {
			if st.Empty() {
				continue
			}
			item := tagstore.NewTag()
			item.SetString("item", st.Item)
			item.SetInt("count", int64(st.Count))
			slots.SetTag(fmt.Sprintf("%d", k), item)
		}
		t.SetTag("slots", slots)
		tag.SetTag(fmt.Sprintf("StorageInv%d", j), t)
	}
}

func (s *Storage) ReadState(tag tagstore.Tag) error {
	n, ok := tag.Int("StorageCount")
	if !ok {
		return nil
	}
	for j := 0; j < int(n); j++ {
		t, ok := tag.Tag(fmt.Sprintf("StorageInv%d", j))
		if !ok {
			return fmt.Errorf("StorageInv%d missing", j)
		}
		id, _ := t.Int("id")
		inv, ok := s.invs[uint8(id)]
		if !ok {
			s.host.Logger().Warnf("storage %d no longer in definition, contents discarded", id)
			continue
		}
		slots, _ := t.Tag("slots")
		for i := range inv.Slots {
			item, ok := slots.Tag(fmt.Sprintf("%d", i))
			if !ok {
				inv.Slots[i] = ItemStack{}
				continue
			}
			name, _ := item.String("item")
			count, _ := item.Int("count")
			inv.Slots[i] = ItemStack{Item: name, Count: int(count)}
		}
	}
	return nil
}

// Close hands every stored stack to the host, if it can take them.
func (s *Storage) Close() {
	var all []ItemStack
	for _, id := range s.IDs() {
		all = append(all, nonEmpty(s.invs[id].Slots)...)
	}
	s.invs = map[uint8]*Inventory{}
	s.drop(all)
}

func (s *Storage) drop(stacks []ItemStack) {
	if len(stacks) == 0 {
		return
	}
	if d, ok := s.host.(Dropper); ok {
		d.DropItems(stacks)
	}
}

func nonEmpty(in []ItemStack) []ItemStack {
	var out []ItemStack
	for _, st := range in {
		if !st.Empty() {
			out = append(out, st)
		}
	}
	return out
}
