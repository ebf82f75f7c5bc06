package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	citymatch "github.com/citymatch/citymatch-go"
)

// ============================================================================
// Flag variables
// ============================================================================

var (
	// profile set
	profileName        string
	profileBio         string
	profileCity        string
	profileInterests   string
	profileGender      string
	profileConnectWith string

	// discover
	discoverCity   string
	discoverSearch string
)

// ============================================================================
// profile
// ============================================================================

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "View or edit profiles",
}

var profileShowCmd = &cobra.Command{
	Use:   "show [user-id]",
	Short: "Show your profile, or another user's",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sess := mustSession()
		defer sess.Close()
		ctx, cancel := sess.withTimeout()
		defer cancel()

		var (
			p   *citymatch.Profile
			err error
		)
		if len(args) == 1 {
			p, err = sess.Discovery.UserProfile(ctx, citymatch.UserID(args[0]))
		} else {
			p, err = sess.Discovery.CurrentProfile(ctx)
		}
		if err != nil {
			return fmt.Errorf("failed to load profile: %s", describeError(err))
		}

		if jsonOutput {
			return printJSON(p)
		}
		if p == nil {
			fmt.Println("No profile yet. Run 'citymatch profile set' to create one.")
			return nil
		}
		printProfile(p)
		return nil
	},
}

var profileSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Create or update your profile",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess := mustSession()
		defer sess.Close()
		ctx, cancel := sess.withTimeout()
		defer cancel()

		update := &citymatch.ProfileUpdate{
			Name:        profileName,
			Bio:         profileBio,
			City:        profileCity,
			Interests:   splitList(profileInterests),
			Gender:      citymatch.Gender(strings.ToLower(profileGender)),
			ConnectWith: citymatch.Gender(strings.ToLower(profileConnectWith)),
		}
		if err := sess.Discovery.SaveProfile(ctx, update); err != nil {
			return fmt.Errorf("failed to save profile: %s", describeError(err))
		}
		fmt.Println("Profile saved.")
		return nil
	},
}

// ============================================================================
// discover
// ============================================================================

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Find people in a city",
	Long:  "List profiles in a city. Defaults to the city on your own profile.",
	RunE: func(cmd *cobra.Command, args []string) error {
		sess := mustSession()
		defer sess.Close()
		ctx, cancel := sess.withTimeout()
		defer cancel()

		city := discoverCity
		if city == "" {
			me, err := sess.Discovery.CurrentProfile(ctx)
			if err != nil {
				return fmt.Errorf("failed to load profile: %s", describeError(err))
			}
			if me == nil || me.City == "" {
				return fmt.Errorf("no city given and your profile has none; use --city")
			}
			city = me.City
		}

		profiles, err := sess.Discovery.ProfilesByCity(ctx, city, discoverSearch)
		if err != nil {
			return fmt.Errorf("failed to discover: %s", describeError(err))
		}

		if jsonOutput {
			return printJSON(profiles)
		}
		if len(profiles) == 0 {
			fmt.Printf("No one found in %s.\n", city)
			return nil
		}
		for i := range profiles {
			p := &profiles[i]
			line := fmt.Sprintf("%-24s %s", p.Name, p.Owner)
			if len(p.Interests) > 0 {
				line += "  [" + strings.Join(citymatch.FormatInterestsPreview(p.Interests, 3), ", ") + "]"
			}
			fmt.Println(line)
		}
		return nil
	},
}

func printProfile(p *citymatch.Profile) {
	fmt.Printf("Name:      %s\n", p.Name)
	fmt.Printf("User ID:   %s\n", p.Owner)
	fmt.Printf("City:      %s\n", valueOrDefault(p.City, "(not set)"))
	if p.Bio != "" {
		fmt.Printf("Bio:       %s\n", p.Bio)
	}
	if len(p.Interests) > 0 {
		fmt.Printf("Interests: %s\n", strings.Join(p.Interests, ", "))
	}
	if p.Gender != nil {
		fmt.Printf("Gender:    %s\n", *p.Gender)
	}
	if p.ConnectWith != nil {
		fmt.Printf("Looking:   %s\n", *p.ConnectWith)
	}
	if p.Photo != nil {
		fmt.Printf("Photo:     %s\n", p.Photo.URL)
	}
	if p.Incomplete() {
		fmt.Println("Profile is incomplete. Run 'citymatch profile set' to finish it.")
	}
}

// splitList splits a comma-separated flag value, dropping blanks.
func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func init() {
	profileSetCmd.Flags().StringVar(&profileName, "name", "", "Display name")
	profileSetCmd.Flags().StringVar(&profileBio, "bio", "", "Short bio")
	profileSetCmd.Flags().StringVar(&profileCity, "city", "", "Your city")
	profileSetCmd.Flags().StringVar(&profileInterests, "interests", "", "Comma-separated interests")
	profileSetCmd.Flags().StringVar(&profileGender, "gender", "", "female or male")
	profileSetCmd.Flags().StringVar(&profileConnectWith, "connect-with", "", "Who you want to meet: female or male")

	discoverCmd.Flags().StringVar(&discoverCity, "city", "", "City to search")
	discoverCmd.Flags().StringVar(&discoverSearch, "search", "", "Filter by name")

	profileCmd.AddCommand(profileShowCmd)
	profileCmd.AddCommand(profileSetCmd)

	rootCmd.AddCommand(profileCmd)
	rootCmd.AddCommand(discoverCmd)
}
