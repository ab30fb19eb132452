package noisesac

// targetSynchronizer schedules soft parameter transfer from the online
// critic ensemble to its target ensemble. Only the reward-trained
// critic has a target counterpart: the actor and the noise critic are
// never synchronized.
type targetSynchronizer struct {
	tau      float64
	interval int
}

// shouldSync returns whether the target ensemble synchronizes after
// the argument gradient step
func (t targetSynchronizer) shouldSync(step int) bool {
	return step%t.interval == 0
}

// sync performs the soft update on the argument critic trainer's
// ensembles
func (t targetSynchronizer) sync(critic *criticTrainer) error {
	return critic.sync(t.tau)
}
