package cmd

import "testing"

func TestSiteAddCommandMetadata(t *testing.T) {
	if siteAddCmd.Use != "add <id> <url>" {
		t.Errorf("Expected Use to be 'add <id> <url>', got %s", siteAddCmd.Use)
	}
	if siteAddCmd.RunE == nil {
		t.Error("Expected RunE function to be set")
	}
	if siteAddCmd.Flags().Lookup("kind") == nil {
		t.Error("expected --kind flag to be registered")
	}
}

func TestSiteCommandsRegistered(t *testing.T) {
	for _, name := range []string{"list", "add", "remove"} {
		found := false
		for _, sub := range siteCmd.Commands() {
			if sub.Name() == name {
				found = true
				break
			}
		}
		if !found {
			t.Errorf("expected site subcommand %q to be registered", name)
		}
	}
}
