package catalog

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrgValidate(t *testing.T) {
	org := Org{Name: "  Lab  ", PreApproved: []string{alice, " " + alice + " ", bob}}
	require.NoError(t, org.Validate())
	assert.Equal(t, "Lab", org.Name)
	assert.Equal(t, []string{alice, bob}, org.PreApproved)

	for name, bad := range map[string]Org{
		"no name":           {Name: "  "},
		"long name":         {Name: strings.Repeat("n", maxNameLength+1)},
		"long description":  {Name: "x", Description: strings.Repeat("d", maxDescriptionLength+1)},
		"empty pre-approve": {Name: "x", PreApproved: []string{""}},
	} {
		bad := bad
		assert.ErrorIs(t, bad.Validate(), ErrInvalid, name)
	}
}

func TestFileValidate(t *testing.T) {
	f := File{Name: " report.pdf ", Size: 10}
	require.NoError(t, f.Validate())
	assert.Equal(t, "report.pdf", f.Name)

	assert.ErrorIs(t, (&File{Name: ""}).Validate(), ErrInvalid)
	assert.ErrorIs(t, (&File{Name: "x", Size: -1}).Validate(), ErrInvalid)
	assert.ErrorIs(t, (&File{Name: "x", Location: strings.Repeat("l", maxLocationLength+1)}).Validate(), ErrInvalid)
}

func TestVisible(t *testing.T) {
	orgs := []Org{
		{OrgID: 0, Name: "open"},
		{OrgID: 1, Name: "alice only", PreApproved: []string{alice}},
		{OrgID: 2, Name: "bob only", PreApproved: []string{bob}},
	}
	ids := func(orgs []Org) []uint32 {
		var out []uint32
		for _, o := range orgs {
			out = append(out, o.OrgID)
		}
		return out
	}
	assert.Equal(t, []uint32{0, 1}, ids(Visible(orgs, alice)))
	assert.Equal(t, []uint32{0, 2}, ids(Visible(orgs, bob)))
	assert.Equal(t, []uint32{0}, ids(Visible(orgs, "")))
}
