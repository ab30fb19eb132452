// Command diffsteer trains a noise-aliased soft actor-critic agent on
// the point-mass environment using an identity action decoder.
package main

import (
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/diffsteer/diffsteer/agent/nonlinear/continuous/noisesac"
	"github.com/diffsteer/diffsteer/decoder"
	"github.com/diffsteer/diffsteer/environment/pointmass"
	"github.com/diffsteer/diffsteer/initwfn"
	"github.com/diffsteer/diffsteer/network"
	"github.com/diffsteer/diffsteer/solver"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "diffsteer",
		Short: "Train diffusion-steering reinforcement learning agents",
	}
	root.AddCommand(trainCmd())
	return root
}

func trainCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a noise-aliased SAC agent on point-mass",
		RunE: func(cmd *cobra.Command, args []string) error {
			return train(v)
		},
	}

	flags := cmd.Flags()
	flags.Int("dims", 2, "point-mass dimensionality")
	flags.Int("episodes", 100, "training episodes")
	flags.Int("max-steps", 200, "maximum steps per episode")
	flags.Int64("seed", 42, "random seed")
	flags.Int("batch-size", 32, "minibatch size")
	flags.Float64("tau", 0.005, "target network soft-update rate")
	flags.Float64("gamma", 0.99, "discount factor")
	flags.String("ent-coef", "auto", "entropy coefficient: auto, auto_X, "+
		"or a fixed positive float")
	flags.Int("critic-members", 2, "critic ensemble size")
	flags.Int("grad-steps", 1, "gradient steps per training call")
	flags.Int("actor-grad-steps", -1, "actor updates per training call "+
		"(negative: every step)")
	flags.Int("noise-critic-grad-steps", 1, "noise critic distillation "+
		"steps per training call")
	flags.String("combine", "min", "ensemble combine rule: min or mean")
	flags.Float64("learning-rate", 3e-4, "optimizer step size")
	flags.Int("learning-starts", 500, "uniform random warmup steps")
	flags.String("config", "", "optional config file overriding flags")

	if err := v.BindPFlags(flags); err != nil {
		panic(err)
	}

	return cmd
}

func train(v *viper.Viper) error {
	if cfgFile := v.GetString("config"); cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("train: could not read config file: %v", err)
		}
	}

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Logger()

	dims := v.GetInt("dims")
	seed := v.GetInt64("seed")
	batchSize := v.GetInt("batch-size")
	lr := v.GetFloat64("learning-rate")

	env := pointmass.New(dims, v.GetInt("max-steps"), uint64(seed))

	dec, err := decoder.NewIdentity(1, dims)
	if err != nil {
		return fmt.Errorf("train: could not create decoder: %v", err)
	}

	init, err := initwfn.NewGlorotU(1.0)
	if err != nil {
		return fmt.Errorf("train: could not create initializer: %v", err)
	}

	policySolver, err := solver.NewDefaultAdam(lr, batchSize)
	if err != nil {
		return fmt.Errorf("train: could not create policy solver: %v", err)
	}
	criticSolver, err := solver.NewDefaultAdam(lr, batchSize)
	if err != nil {
		return fmt.Errorf("train: could not create critic solver: %v", err)
	}
	noiseCriticSolver, err := solver.NewDefaultAdam(lr, batchSize)
	if err != nil {
		return fmt.Errorf("train: could not create noise critic "+
			"solver: %v", err)
	}
	entCoefSolver, err := solver.NewDefaultAdam(lr, batchSize)
	if err != nil {
		return fmt.Errorf("train: could not create entropy coefficient "+
			"solver: %v", err)
	}

	config := noisesac.Config{
		PolicyHiddenSizes: []int{64, 64},
		PolicyBiases:      []bool{true, true},
		PolicyActivations: []*network.Activation{
			network.ReLU(), network.ReLU(),
		},
		PolicySolver: policySolver,

		CriticMembers:     v.GetInt("critic-members"),
		CriticHiddenSizes: []int{64, 64},
		CriticBiases:      []bool{true, true},
		CriticActivations: []*network.Activation{
			network.ReLU(), network.ReLU(),
		},
		CriticSolver:      criticSolver,
		NoiseCriticSolver: noiseCriticSolver,

		InitWFn: init,

		EntCoef:       v.GetString("ent-coef"),
		EntCoefSolver: entCoefSolver,
		TargetEntropy: "auto",

		BatchSize:            batchSize,
		Tau:                  v.GetFloat64("tau"),
		Gamma:                v.GetFloat64("gamma"),
		TargetUpdateInterval: 1,
		GradSteps:            v.GetInt("grad-steps"),
		ActorGradSteps:       v.GetInt("actor-grad-steps"),
		NoiseCriticGradSteps: v.GetInt("noise-critic-grad-steps"),
		CombineType:          noisesac.CombineType(v.GetString("combine")),

		ChunkLen:   1,
		ActionDims: dims,

		ReplayCapacity:    100000,
		MinReplayCapacity: batchSize,

		LearningStarts: v.GetInt("learning-starts"),
		TrainFreq:      1,
	}

	agent, err := noisesac.New(env, dec, config, seed, logger)
	if err != nil {
		return fmt.Errorf("train: could not create agent: %v", err)
	}

	episodes := v.GetInt("episodes")
	for episode := 0; episode < episodes; episode++ {
		step := env.Reset()
		if err := agent.ObserveFirst(step); err != nil {
			return fmt.Errorf("train: %v", err)
		}

		var episodeReturn float64
		for !step.Last() {
			action := agent.SelectAction(step)
			next, _ := env.Step(action)

			if err := agent.Observe(action, next); err != nil {
				return fmt.Errorf("train: %v", err)
			}
			if err := agent.Step(); err != nil {
				return fmt.Errorf("train: %v", err)
			}

			episodeReturn += next.Reward
			step = next
		}
		agent.EndEpisode()

		logger.Info().
			Int("episode", episode).
			Int("steps", agent.TotalSteps()).
			Float64("return", episodeReturn).
			Msg("episode complete")
	}

	return nil
}
