package playback

// feed drains the queue into the pipeline's push input until the player
// is closed.
func (p *Player) feed() {
	defer close(p.feederDone)
	p.log.Debug().Msg("playback: feeder started")

	for p.running.Load() {
		if p.queue.IsEmpty() && p.firstPacketSent() {
			p.emit(EventNeedData)
		}

		data, ok := p.queue.Remove()
		if !ok {
			if p.queue.Closed() {
				break
			}
			continue
		}
		p.pushBuffer(data)
	}

	p.log.Debug().Msg("playback: feeder stopped")
}

func (p *Player) firstPacketSent() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return !p.firstPacketPending
}

// pushBuffer splits data into fragments and pushes them in order.
func (p *Player) pushBuffer(data []byte) {
	p.mu.Lock()
	pl, seq := p.pipeline, p.stopSeq
	p.mu.Unlock()
	if pl == nil {
		return
	}
	input := pl.PushInput()
	if input == nil {
		p.log.Error().Msg("playback: pipeline has no push input")
		return
	}

	size := p.cfg.FragmentSize
	if size <= 0 {
		size = len(data)
	}
	for off := 0; off < len(data); off += size {
		end := min(off+size, len(data))
		if err := input.Push(data[off:end]); err != nil {
			p.log.Warn().Err(err).Msgf("playback: push failed: offset=%d size=%d", off, end-off)
			return
		}
		if !p.markFirstPacket(seq) {
			return
		}
	}
}

// markFirstPacket reports playback start on the first chunk ever pushed
// since the last stop. It returns false when a stop happened after seq was
// taken; the chunk is then discarded with the old stream.
func (p *Player) markFirstPacket(seq uint64) bool {
	p.mu.Lock()
	if p.stopSeq != seq {
		p.mu.Unlock()
		return false
	}
	first := p.firstPacketPending
	p.firstPacketPending = false
	p.mu.Unlock()
	if first {
		p.emit(EventPlaybackStarted)
		p.applyVolumes()
	}
	return true
}
