package link

import "testing"

func TestShortAddress(t *testing.T) {
	rloc := RouterRLOC16(5)
	if rloc != 0x1400 {
		t.Errorf("RouterRLOC16(5) = %v, want 0x1400", rloc)
	}
	if !rloc.IsRouter() {
		t.Error("router RLOC16 should report IsRouter")
	}
	child := rloc | 3
	if child.IsRouter() {
		t.Error("child RLOC16 should not report IsRouter")
	}
	if child.RouterID() != 5 || child.ChildID() != 3 {
		t.Errorf("child decode = (%d,%d), want (5,3)", child.RouterID(), child.ChildID())
	}
	if ShortAddressInvalid.IsValid() || ShortAddressBroadcast.IsValid() {
		t.Error("reserved short addresses must be invalid")
	}
}

func TestChannelMask(t *testing.T) {
	if got := ChannelsInMask(DefaultChannelMask); len(got) != 16 {
		t.Fatalf("default mask has %d channels, want 16", len(got))
	}
	mask := Channel(11).MaskBit() | Channel(25).MaskBit()
	got := ChannelsInMask(mask)
	if len(got) != 2 || got[0] != 11 || got[1] != 25 {
		t.Errorf("ChannelsInMask = %v, want [11 25]", got)
	}
	if err := Channel(10).Validate(); err != ErrInvalidChannel {
		t.Errorf("Validate(10) = %v, want ErrInvalidChannel", err)
	}
}

func TestParseExtendedPanID(t *testing.T) {
	x, err := ParseExtendedPanID("dead00beef00cafe")
	if err != nil {
		t.Fatalf("ParseExtendedPanID() error = %v", err)
	}
	if x.String() != "dead00beef00cafe" {
		t.Errorf("String() = %s", x)
	}
	if _, err := ParseExtendedPanID("dead"); err == nil {
		t.Error("short input should fail")
	}
}
