package match_test

import (
	"testing"

	"github.com/porterhq/porter/match"
)

func specValues(specs []match.Specifier) []string {
	out := make([]string, len(specs))
	for i, s := range specs {
		out[i] = s.Value
	}
	return out
}

func TestFindAllImportForms(t *testing.T) {
	src := []byte(`
import defaultExport from "./home_dep.js";
import * as ns from "yen";
import { a, b } from "./util.js";
import "./side-effect.js";
const x = require("left-pad");
export { helper } from "./helper.js";
`)
	specs, err := match.FindAll(src)
	if err != nil {
		t.Fatalf("FindAll() error = %v", err)
	}
	got := specValues(specs)
	want := []string{"./home_dep.js", "yen", "./util.js", "./side-effect.js", "left-pad", "./helper.js"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFindAllIgnoresStringsAndComments(t *testing.T) {
	src := []byte(`
// require("fake-one")
/* import x from "fake-two"; */
const s = "require(\"fake-three\")";
const t = ` + "`require(\"fake-four\")`" + `;
import real from "./real.js";
`)
	specs, err := match.FindAll(src)
	if err != nil {
		t.Fatalf("FindAll() error = %v", err)
	}
	got := specValues(specs)
	if len(got) != 1 || got[0] != "./real.js" {
		t.Fatalf("got %v, want [./real.js]", got)
	}
}

func TestFindAllStaticConditionalGating(t *testing.T) {
	src := []byte(`
if ("a" == "a") {
  require("./true-branch.js");
} else {
  require("./false-branch.js");
}
if ("a" == "b") {
  require("./dead.js");
} else {
  require("./live.js");
}
`)
	specs, err := match.FindAll(src)
	if err != nil {
		t.Fatalf("FindAll() error = %v", err)
	}
	got := specValues(specs)
	want := []string{"./true-branch.js", "./live.js"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}

func TestFindAllUnknownConditionKeepsBothBranches(t *testing.T) {
	src := []byte(`
if (someRuntimeFlag) {
  require("./a.js");
} else {
  require("./b.js");
}
`)
	specs, err := match.FindAll(src)
	if err != nil {
		t.Fatalf("FindAll() error = %v", err)
	}
	got := specValues(specs)
	if len(got) != 2 {
		t.Fatalf("got %v, want both branches kept", got)
	}
}

func TestFindAllCSS(t *testing.T) {
	src := []byte(`
@import "./base.css";
@import url(./theme.css);
@import url("./quoted.css");
/* @import "fake.css"; */
.a { color: red; } /* trailing comment */
`)
	specs, err := match.FindAllCSS(src)
	if err != nil {
		t.Fatalf("FindAllCSS() error = %v", err)
	}
	got := specValues(specs)
	want := []string{"./base.css", "./theme.css", "./quoted.css"}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got %v, want %v", got, want)
		}
	}
}
